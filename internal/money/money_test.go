package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"485":     "485.00",
		"485.5":   "485.50",
		"0.01":    "0.01",
		"1000.00": "1000.00",
	}
	for in, want := range cases {
		a, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if a.String() != want {
			t.Fatalf("parse %q: expected %s, got %s", in, want, a.String())
		}
	}
}

func TestParseRejectsExtraPrecision(t *testing.T) {
	if _, err := Parse("1.001"); !errors.Is(err, ErrTooPrecise) {
		t.Fatalf("expected ErrTooPrecise, got %v", err)
	}
	if _, err := Parse("abc"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPercentRoundsToMinorUnit(t *testing.T) {
	if got := FromMajor(500).Percent(decimal.NewFromInt(3)); got != FromMajor(15) {
		t.Fatalf("expected 15.00, got %s", got)
	}
	// 3.5% of 0.33 = 0.01155 -> 0.01
	if got := FromMinor(33).Percent(decimal.RequireFromString("3.5")); got != FromMinor(1) {
		t.Fatalf("expected 0.01, got %s", got)
	}
	// 2.5% of 1.00 = 0.025 -> 0.03 (half away from zero)
	if got := FromMinor(100).Percent(decimal.RequireFromString("2.5")); got != FromMinor(3) {
		t.Fatalf("expected 0.03, got %s", got)
	}
}

func TestClamp(t *testing.T) {
	if got := FromMajor(120).Clamp(0, FromMajor(100)); got != FromMajor(100) {
		t.Fatalf("expected upper clamp, got %s", got)
	}
	if got := FromMinor(-5).Clamp(0, FromMajor(100)); got != 0 {
		t.Fatalf("expected lower clamp, got %s", got)
	}
}

func TestJSONRoundTripAcceptsNumbers(t *testing.T) {
	var payload struct {
		Amount Amount `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount": 485.5}`), &payload); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if payload.Amount != FromMinor(48550) {
		t.Fatalf("expected 48550 minor units, got %d", payload.Amount)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"amount":"485.50"}` {
		t.Fatalf("unexpected encoding %s", out)
	}
}
