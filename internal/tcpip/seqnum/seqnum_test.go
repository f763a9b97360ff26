package seqnum

import "testing"

func TestBeforeAfter(t *testing.T) {
	cases := []struct {
		a, b         Value
		before, after bool
	}{
		{0, 1, true, false},
		{1, 0, false, true},
		{5, 5, false, false},
		// wrap across the 2^32 boundary
		{0xFFFFFFFF, 0, true, false},
		{0, 0xFFFFFFFF, false, true},
		{0xFFFFFFF0, 0xFFFFFFFF, true, false},
	}
	for _, c := range cases {
		if got := Before(c.a, c.b); got != c.before {
			t.Errorf("Before(%d,%d) = %v, want %v", c.a, c.b, got, c.before)
		}
		if got := After(c.a, c.b); got != c.after {
			t.Errorf("After(%d,%d) = %v, want %v", c.a, c.b, got, c.after)
		}
	}
}

func TestBetween(t *testing.T) {
	if !Between(5, 1, 10) {
		t.Error("5 should be between 1 and 10")
	}
	if Between(0, 1, 10) {
		t.Error("0 should not be between 1 and 10")
	}
	if !Between(1, 1, 10) {
		t.Error("lo bound should be inclusive")
	}
	if !Between(10, 1, 10) {
		t.Error("hi bound should be inclusive")
	}
	// wrap case
	lo := Value(0xFFFFFFF0)
	hi := Value(10)
	if !Between(0xFFFFFFFF, lo, hi) {
		t.Error("wrap: 0xFFFFFFFF should be between 0xFFFFFFF0 and 10")
	}
	if !Between(5, lo, hi) {
		t.Error("wrap: 5 should be between 0xFFFFFFF0 and 10")
	}
	if Between(20, lo, hi) {
		t.Error("wrap: 20 should not be between 0xFFFFFFF0 and 10")
	}
}

func TestAdd(t *testing.T) {
	v := Value(0xFFFFFFFE)
	v = v.Add(4)
	if v != 2 {
		t.Errorf("Add wrap: got %d, want 2", v)
	}
}
