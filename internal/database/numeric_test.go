package database

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestNumericRoundTrip(t *testing.T) {
	tests := []string{"0", "42.50", "0.01", "-3.99", "199999.99"}

	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			d, err := decimal.NewFromString(tt)
			if err != nil {
				t.Fatalf("parsing %q: %v", tt, err)
			}
			got := NumericToDecimal(DecimalToNumeric(d))
			if !got.Equal(d) {
				t.Errorf("round trip = %s, want %s", got, d)
			}
		})
	}
}

func TestNumericToDecimal_Null(t *testing.T) {
	if got := NumericToDecimal(pgtype.Numeric{}); !got.IsZero() {
		t.Errorf("NULL numeric = %s, want 0", got)
	}
	if got := NumericToDecimalPtr(pgtype.Numeric{}); got != nil {
		t.Errorf("NULL numeric ptr = %v, want nil", got)
	}
}

func TestDecimalPtrToNumeric_Nil(t *testing.T) {
	if got := DecimalPtrToNumeric(nil); got.Valid {
		t.Error("nil decimal should map to NULL numeric")
	}
}
