package types

import (
	"encoding/json"
	"testing"
)

func TestNewPrice(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		display  string
		minor    int64
		wantErr  bool
	}{
		{"USD", "4.99", "USD", "$4.99", 499, false},
		{"EUR whole", "10", "eur", "€10.00", 1000, false},
		{"IDR", "15000", "IDR", "IDR 15000", 15000, false},
		{"Zero", "0", "usd", "$0.00", 0, false},
		{"Negative", "-1.00", "usd", "", 0, true},
		{"Garbage", "abc", "usd", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPrice(tt.amount, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.amount)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPrice: %v", err)
			}
			if p.String() != tt.display {
				t.Errorf("Display: got %s, want %s", p.String(), tt.display)
			}
			if p.Minor() != tt.minor {
				t.Errorf("Minor: got %d, want %d", p.Minor(), tt.minor)
			}
		})
	}
}

func TestFromMinor(t *testing.T) {
	p := FromMinor(1299, "usd")
	if !p.Equal(MustPrice("12.99", "usd")) {
		t.Errorf("FromMinor: got %s, want $12.99", p)
	}

	yen := FromMinor(500, "JPY")
	if yen.String() != "¥500" {
		t.Errorf("FromMinor JPY: got %s, want ¥500", yen)
	}
}

func TestPriceJSON(t *testing.T) {
	data, err := json.Marshal(MustPrice("4.99", "usd"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["display"] != "$4.99" {
		t.Errorf("display: got %v, want $4.99", out["display"])
	}
	if out["amount"] != "4.99" {
		t.Errorf("amount: got %v, want \"4.99\"", out["amount"])
	}
}
