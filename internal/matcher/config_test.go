package matcher

import (
	"testing"

	"reconcileflow/internal/models"
	"reconcileflow/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{"defaults", func(p *Params) {}, false},
		{"zero window", func(p *Params) { p.DateWindowDays = 0 }, false},
		{"negative window", func(p *Params) { p.DateWindowDays = -1 }, true},
		{"zero max candidates", func(p *Params) { p.MaxCandidatesPerInvoice = 0 }, true},
		{"negative min score", func(p *Params) { p.MinScoreToKeep = -10 }, false},
		{"tolerance of one", func(p *Params) { p.AmountTolerance = 1 }, true},
		{"negative tolerance", func(p *Params) { p.AmountTolerance = -0.1 }, true},
		{"negative band", func(p *Params) { p.AmountBandCents = -1 }, true},
		{"negative workers", func(p *Params) { p.Workers = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(p)

			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.CodeInvalidConfig) {
				t.Errorf("Expected invalid_config, got %v", err)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"", "default", "strict", "relaxed"} {
		p, err := ParamsForPreset(name)
		if err != nil {
			t.Fatalf("Preset %q: %v", name, err)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("Preset %q is invalid: %v", name, err)
		}
	}

	if _, err := ParamsForPreset("aggressive"); err == nil {
		t.Error("Expected an error for an unknown preset")
	}
}

func TestParams_Clone(t *testing.T) {
	p := DefaultParams()
	c := p.Clone()
	c.DateWindowDays = 99

	if p.DateWindowDays == 99 {
		t.Error("Clone should not share state with the original")
	}
}

func TestParams_BandCents(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		amount    string
		expected  int64
	}{
		{"fixed band", 0, "100.00", 3},
		{"tolerance smaller than band", 0.0001, "100.00", 3},
		{"tolerance wider than band", 0.01, "100.00", 100},
		{"negative amount", 0.01, "-250.00", 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.AmountTolerance = tt.tolerance
			if got := p.BandCents(decimal.RequireFromString(tt.amount)); got != tt.expected {
				t.Errorf("Expected band %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestCents(t *testing.T) {
	tests := map[string]int64{
		"100.00":  10000,
		"100.004": 10000,
		"100.005": 10001,
		"-12.34":  -1234,
		"0":       0,
	}
	for in, expected := range tests {
		if got := Cents(decimal.RequireFromString(in)); got != expected {
			t.Errorf("Cents(%s) = %d, expected %d", in, got, expected)
		}
	}
}

func TestAmountIndex(t *testing.T) {
	out := testTxn("T-out", "100.00", 0, "", "")
	out.Direction = models.DirectionOut

	ix := NewAmountIndex([]*models.Transaction{
		testTxn("T-1", "99.97", 0, "", ""),
		testTxn("T-2", "100.00", 0, "", ""),
		testTxn("T-3", "100.00", 0, "", ""),
		testTxn("T-4", "100.04", 0, "", ""),
		testTxn("T-5", "", 0, "", ""),
		out,
	})

	stats := ix.Stats()
	if stats.Indexed != 4 || stats.UniqueBuckets != 3 || stats.Ineligible != 1 || stats.MissingAmount != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	tests := []struct {
		cents    int64
		band     int64
		expected []string
	}{
		{10000, 0, []string{"T-2", "T-3"}},
		{10000, 3, []string{"T-1", "T-2", "T-3"}},
		{10000, 4, []string{"T-1", "T-2", "T-3", "T-4"}},
		{10001, 3, []string{"T-2", "T-3", "T-4"}},
		{5000, 3, nil},
	}

	for _, tt := range tests {
		var got []string
		for _, txn := range ix.Lookup(tt.cents, tt.band) {
			got = append(got, txn.TxnID)
		}
		if len(got) != len(tt.expected) {
			t.Errorf("Lookup(%d, %d) = %v, expected %v", tt.cents, tt.band, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("Lookup(%d, %d) = %v, expected %v", tt.cents, tt.band, got, tt.expected)
				break
			}
		}
	}
}
