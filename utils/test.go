package utils

import (
	"math"
	"testing"
)

func AssertTrue(t *testing.T, a bool) {
	t.Helper()
	if !a {
		t.Fatalf("Expected true, got false")
	}
}

func AssertEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("Expected equal: %v != %v\n", a, b)
	}
}

func AssertClose(t *testing.T, a, b, tolerance float64) {
	t.Helper()
	if math.Abs(a-b) > tolerance {
		t.Fatalf("Expected close: %v != %v (tolerance %v)\n", a, b, tolerance)
	}
}

// AssertAllClose compares two slices element-wise.
func AssertAllClose(t *testing.T, a, b []float64, tolerance float64) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("Expected equal lengths: %d != %d\n", len(a), len(b))
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tolerance {
			t.Fatalf("Expected close at %d: %v != %v (tolerance %v)\n", i, a[i], b[i], tolerance)
		}
	}
}
