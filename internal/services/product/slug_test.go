package product

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Vitamin C Brightening Serum", "vitamin-c-brightening-serum"},
		{"  Niacinamide 10% + Zinc  ", "niacinamide-10-zinc"},
		{"Rosé--Water   Toner", "ros-water-toner"},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := slugify(tt.in); got != tt.want {
				t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
