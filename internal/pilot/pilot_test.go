package pilot

import (
	"math"
	"testing"
)

func TestClassify_CanonicalWindows(t *testing.T) {
	cases := []struct {
		vMin, vMax float64
		want       Symbol
	}{
		{-12, 12, Plus12V},
		{-12, 9, Plus9V},
		{-12, 6, Plus6V},
		{-12, 3, Plus3V},
		{-12, -12, Minus12V},
		{-12.4, 8.6, Plus9V},
	}
	for _, c := range cases {
		if got := Classify(c.vMin, c.vMax); got != c.want {
			t.Errorf("Classify(%v, %v) = %v, want %v", c.vMin, c.vMax, got, c.want)
		}
	}
}

func TestClassify_OscillationError(t *testing.T) {
	// vMin dips negative but misses the -12V rail: pilot isn't oscillating
	// correctly, regardless of what vMax looks like.
	cases := []struct{ vMin, vMax float64 }{
		{-10, 12},
		{-14, 9},
		{-0.5, 6},
	}
	for _, c := range cases {
		if got := Classify(c.vMin, c.vMax); got != Error {
			t.Errorf("Classify(%v, %v) = %v, want Error", c.vMin, c.vMax, got)
		}
	}
}

func TestClassify_OutOfWindowIsError(t *testing.T) {
	if got := Classify(-12, 20); got != Error {
		t.Errorf("Classify(-12, 20) = %v, want Error", got)
	}
	if got := Classify(-12, 0); got != Error {
		t.Errorf("Classify(-12, 0) = %v, want Error", got)
	}
}

// TestClassify_Total checks that Classify never panics and always returns
// one of the defined symbols, over a grid of finite float pairs — the
// totality property.
func TestClassify_Total(t *testing.T) {
	values := []float64{-20, -13.0001, -13, -12, -11, -10.9999, -5, -1, 0, 1, 5, 8, 9, 11, 12, 13, 20}
	for _, vMin := range values {
		for _, vMax := range values {
			got := Classify(vMin, vMax)
			if got < Plus12V || got > Error {
				t.Fatalf("Classify(%v, %v) returned out-of-range symbol %v", vMin, vMax, got)
			}
		}
	}
}

func TestClassifyDisconnected_ZeroBand(t *testing.T) {
	if got := ClassifyDisconnected(-0.5, 0.5); got != Zero {
		t.Errorf("ClassifyDisconnected(-0.5, 0.5) = %v, want Zero", got)
	}
	if got := ClassifyDisconnected(-12, 12); got != Plus12V {
		t.Errorf("ClassifyDisconnected(-12, 12) = %v, want Plus12V (falls through to Classify)", got)
	}
}

func TestDutyCycle(t *testing.T) {
	// 16A offer: 16 / 0.6 / 100 ≈ 0.2667
	got := DutyCycle(16)
	want := 16.0 / 0.6 / 100.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("DutyCycle(16) = %v, want %v", got, want)
	}
}
