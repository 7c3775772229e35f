package normalize

import (
	"testing"
	"time"
)

func TestText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  ACME   Corp.  ", "acme corp"},
		{"Foo-Bar\tBaz\n", "foo bar baz"},
		{"Café São Paulo", "caf s o paulo"},
		{"***", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReference(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"INV-500", "inv 500"},
		{"PIX Transfer Ref 12345", "12345"},
		{"Payment for invoice no. 77", "for 77"},
		{"ID:abc", "abc"},
		{"nota n 9", "nota 9"},
		{"refund", "refund"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Reference(tt.in); got != tt.want {
				t.Errorf("Reference(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"100", "100", true},
		{"100.50", "100.5", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"12,5", "12.5", true},
		{" 1 000,00 ", "1000", true},
		{"-42.10", "-42.1", true},
		{"$99.99", "99.99", true},
		{"", "", false},
		{"abc", "", false},
		{"1,2,3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Amount(tt.in)
			if got.Valid != tt.valid {
				t.Fatalf("Amount(%q).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
			}
			if tt.valid && got.Decimal.String() != tt.want {
				t.Errorf("Amount(%q) = %s, want %s", tt.in, got.Decimal.String(), tt.want)
			}
		})
	}
}

func TestDate(t *testing.T) {
	want := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2024-01-10",
		"2024-01-10T15:04:05Z",
		"2024-01-10 08:30:00",
		"01/10/2024",
		"1/10/2024",
		"2024/01/10",
		"Jan 10, 2024",
		"10 Jan 2024",
	} {
		t.Run(in, func(t *testing.T) {
			got := Date(in)
			if got == nil {
				t.Fatalf("Date(%q) = nil", in)
			}
			if !got.Equal(want) {
				t.Errorf("Date(%q) = %v, want %v", in, got, want)
			}
		})
	}

	for _, in := range []string{"", "   ", "not a date", "2024-13-45"} {
		if got := Date(in); got != nil {
			t.Errorf("Date(%q) = %v, want nil", in, got)
		}
	}
}
