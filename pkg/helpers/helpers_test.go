package helpers

import (
	"math/big"
	"testing"
)

func TestParseBalance(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"empty is zero", "", "0", false},
		{"plain", "100", "100", false},
		{"large", "340282366920938463463374607431768211456", "340282366920938463463374607431768211456", false},
		{"negative", "-1", "", true},
		{"garbage", "12ab", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBalance(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBalance(%q) error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseBalance(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePositiveAmount(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"40", false},
		{"1000000000000000000", false},
		{"0", true},
		{"-5", true},
		{"1.5", true},
		{"", true},
		{"abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParsePositiveAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePositiveAmount(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestFormatAndParseAmount(t *testing.T) {
	got := FormatAmount(big.NewInt(15000000000), 10)
	if got != "1.5" {
		t.Errorf("FormatAmount = %s, want 1.5", got)
	}
	if FormatAmount(nil, 10) != "0" {
		t.Errorf("FormatAmount(nil) should be 0")
	}

	parsed, err := ParseAmount("1.5", 10)
	if err != nil {
		t.Fatalf("ParseAmount error: %v", err)
	}
	if parsed.Cmp(big.NewInt(15000000000)) != 0 {
		t.Errorf("ParseAmount = %s, want 15000000000", parsed)
	}
}

func TestSum(t *testing.T) {
	got := Sum(big.NewInt(40), nil, big.NewInt(5), big.NewInt(10))
	if got.Cmp(big.NewInt(55)) != 0 {
		t.Errorf("Sum = %s, want 55", got)
	}
}

func TestHex(t *testing.T) {
	b, err := HexToBytes("0xdeadbeef")
	if err != nil {
		t.Fatalf("HexToBytes error: %v", err)
	}
	if BytesToHex(b) != "0xdeadbeef" {
		t.Errorf("BytesToHex = %s", BytesToHex(b))
	}
	if !IsHex("0x00ff") || IsHex("00ff") || IsHex("0x0") {
		t.Errorf("IsHex misclassified input")
	}
}
