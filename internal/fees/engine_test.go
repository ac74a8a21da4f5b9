package fees

import (
	"math"
	"testing"
)

func mustEngine(t *testing.T, rate, share, min float64) *Engine {
	t.Helper()
	e, err := NewEngine(rate, share, min)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestCalculate_NoReferrer(t *testing.T) {
	e := mustEngine(t, 0.001, 0.5, 0.01)
	d := e.Calculate(5000, nil)
	if d.FeeAmount != 5 {
		t.Errorf("fee = %f, want 5", d.FeeAmount)
	}
	if d.NetAmount != 4995 {
		t.Errorf("net = %f, want 4995", d.NetAmount)
	}
	if d.PlatformShare != 5 || d.ReferrerShare != 0 {
		t.Errorf("platform gets everything without a referrer: platform=%f referrer=%f", d.PlatformShare, d.ReferrerShare)
	}
	if d.ReferrerID != nil {
		t.Errorf("referrer ID must be nil")
	}
}

func TestCalculate_ReferrerSplit(t *testing.T) {
	e := mustEngine(t, 0.001, 0.5, 0.01)
	ref := "pool-referrer"
	d := e.Calculate(5000, &ref)
	if d.ReferrerShare != 2.5 || d.PlatformShare != 2.5 {
		t.Errorf("split = platform %f / referrer %f, want 2.5 / 2.5", d.PlatformShare, d.ReferrerShare)
	}
	if d.ReferrerID == nil || *d.ReferrerID != ref {
		t.Errorf("referrer ID not carried through")
	}
}

func TestCalculate_SplitIsExact(t *testing.T) {
	e := mustEngine(t, 0.0025, 0.3, 0)
	ref := "r"
	for _, notional := range []float64{1, 99.99, 1234.5678, 1e7, 0.07} {
		d := e.Calculate(notional, &ref)
		if diff := math.Abs(d.PlatformShare + d.ReferrerShare - d.FeeAmount); diff > 1e-12 {
			t.Errorf("notional %f: shares do not sum to fee (diff %g)", notional, diff)
		}
	}
}

func TestCalculate_BelowMinimumSkipsEntirely(t *testing.T) {
	e := mustEngine(t, 0.001, 0.5, 0.01)
	ref := "r"
	// 0.001 * 5 = 0.005 < 0.01 minimum.
	d := e.Calculate(5, &ref)
	if !d.Skipped() {
		t.Fatalf("expected skipped distribution, got %+v", d)
	}
	if d.NetAmount != 5 {
		t.Errorf("net = %f, want full notional 5", d.NetAmount)
	}
	if d.PlatformShare != 0 || d.ReferrerShare != 0 || d.ReferrerID != nil {
		t.Errorf("skipped fee must distribute nothing: %+v", d)
	}
}

func TestCalculate_EmptyReferrerTreatedAsNone(t *testing.T) {
	e := mustEngine(t, 0.001, 0.5, 0)
	empty := ""
	d := e.Calculate(1000, &empty)
	if d.ReferrerShare != 0 || d.ReferrerID != nil {
		t.Errorf("empty referrer ID must not receive a share: %+v", d)
	}
	if d.PlatformShare != d.FeeAmount {
		t.Errorf("platform share = %f, want full fee %f", d.PlatformShare, d.FeeAmount)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name             string
		rate, share, min float64
	}{
		{"negative rate", -0.001, 0.5, 0},
		{"rate at one", 1, 0.5, 0},
		{"share above one", 0.001, 1.5, 0},
		{"negative minimum", 0.001, 0.5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.rate, tt.share, tt.min); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
