package product

import (
	"testing"

	"github.com/shopspring/decimal"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSalePrice(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		dtype   *string
		dvalue  *decimal.Decimal
		want    string
	}{
		{"no discount", "29.00", nil, nil, "29.00"},
		{"percentage 20", "100.00", strp(DiscountPercentage), decp("20"), "80.00"},
		{"percentage rounds", "19.99", strp(DiscountPercentage), decp("15"), "16.99"},
		{"fixed 10", "29.00", strp(DiscountFixed), decp("10"), "19.00"},
		{"fixed clamps at zero", "5.00", strp(DiscountFixed), decp("10"), "0"},
		{"unknown type ignored", "29.00", strp("bogus"), decp("10"), "29.00"},
		{"type without value ignored", "29.00", strp(DiscountFixed), nil, "29.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{
				Price:         decimal.RequireFromString(tt.price),
				DiscountType:  tt.dtype,
				DiscountValue: tt.dvalue,
			}
			want := decimal.RequireFromString(tt.want)
			if got := p.SalePrice(); !got.Equal(want) {
				t.Errorf("SalePrice() = %s, want %s", got, want)
			}
		})
	}
}
