package fixedpoint

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string // WAD integer as string
		wantErr bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.5", want: "500000000000000000"},
		{in: "43250.12", want: "43250120000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true}, // 19 decimal places
		{in: "abc", wantErr: true},
		{in: "-2.5", want: "-2500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "0.5", "43250.12", "149", "0.000000000000000001"} {
		w, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if got := Format(w); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
	if got := Format(nil); got != "0" {
		t.Errorf("Format(nil) = %q, want 0", got)
	}
}

func TestMulDivTruncates(t *testing.T) {
	// 7 * 1 / 3 = 2 (truncated), not 2.33…
	got := MulDiv(big.NewInt(7), big.NewInt(1), big.NewInt(3))
	if got.Int64() != 2 {
		t.Errorf("MulDiv(7,1,3) = %d, want 2", got.Int64())
	}
}

func TestApplyBp(t *testing.T) {
	// 2% of 50 units = 1 unit.
	fee := ApplyBp(FromInt64(50), 200)
	if fee.Cmp(FromInt64(1)) != 0 {
		t.Errorf("ApplyBp(50, 200bp) = %s, want 1", Format(fee))
	}
}

func TestBpOf(t *testing.T) {
	tests := []struct {
		part, whole int64
		want        int64
	}{
		{part: 100, whole: 150, want: 6666},
		{part: 50, whole: 150, want: 3333},
		{part: 1, whole: 1, want: 10000},
	}
	for _, tt := range tests {
		got := BpOf(FromInt64(tt.part), FromInt64(tt.whole))
		if got != tt.want {
			t.Errorf("BpOf(%d, %d) = %d, want %d", tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestShareOf(t *testing.T) {
	// Sole winner owns the whole pool.
	share := ShareOf(FromInt64(100), FromInt64(100))
	if share.Cmp(One) != 0 {
		t.Errorf("ShareOf(100,100) = %s, want 1e18", share)
	}
}
