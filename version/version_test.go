package version

import (
	"errors"
	"math/rand"
	"testing"
)

func TestZero(t *testing.T) {
	n, err := ToNumber(Zero())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("zero is %d", n)
	}
	if MaxVersion() != "zzzzzz" {
		t.Fatalf("max is %s", MaxVersion())
	}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ns := []uint64{0, 1, 61, 62, 63, Base * Base, Max - 1, Max}
	for i := 0; i < 1000; i++ {
		ns = append(ns, uint64(r.Int63n(int64(Max)+1)))
	}
	for _, n := range ns {
		v, err := FromNumber(n)
		if err != nil {
			t.Fatal(err)
		}
		if len(v) != Width {
			t.Fatalf("%d -> %q has bad width", n, v)
		}
		m, err := ToNumber(v)
		if err != nil {
			t.Fatal(err)
		}
		if m != n {
			t.Fatalf("%d -> %s -> %d", n, v, m)
		}
		w, err := FromNumber(m)
		if err != nil {
			t.Fatal(err)
		}
		if w != v {
			t.Fatalf("%s -> %d -> %s", v, m, w)
		}
	}
}

func TestIncrementDecrement(t *testing.T) {
	v, err := Increment(Zero())
	if err != nil {
		t.Fatal(err)
	}
	if v != "000001" {
		t.Fatalf("got %s", v)
	}

	for _, s := range []Version{"000000", "00000z", "0000zy", "A0zz00", "zzzzzy"} {
		next, err := Increment(s)
		if err != nil {
			t.Fatal(err)
		}
		back, err := Decrement(next)
		if err != nil {
			t.Fatal(err)
		}
		if back != s {
			t.Fatalf("%s -> %s -> %s", s, next, back)
		}
	}

	if v, err := Increment("00000z"); err != nil || v != "000010" {
		t.Fatalf("carry: %s %v", v, err)
	}
}

func TestBoundaries(t *testing.T) {
	if _, err := Increment(MaxVersion()); !errors.Is(err, Overflow) {
		t.Fatalf("increment(max): %v", err)
	}
	if _, err := Decrement(Zero()); !errors.Is(err, Underflow) {
		t.Fatalf("decrement(zero): %v", err)
	}
	if _, err := FromNumber(Max + 1); !errors.Is(err, Overflow) {
		t.Fatalf("fromNumber(max+1): %v", err)
	}
	if _, err := Add(Zero(), -5); !errors.Is(err, Underflow) {
		t.Fatal(err)
	}
	if v, err := Add(Zero(), 62); err != nil || v != "000010" {
		t.Fatalf("%s %v", v, err)
	}
}

func TestFormat(t *testing.T) {
	for _, s := range []string{"", "00000", "0000000", "00000-", "0000 0", "00000é"} {
		if IsValid(s) {
			t.Fatalf("%q shouldn't be valid", s)
		}
		_, err := ToNumber(Version(s))
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("%q: wanted a FormatError, not %v", s, err)
		}
		if _, err := Increment(Version(s)); !errors.As(err, &fe) {
			t.Fatalf("%q: increment: %v", s, err)
		}
	}
}

func TestCompare(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a, _ := FromNumber(uint64(r.Int63n(int64(Max) + 1)))
		b, _ := FromNumber(uint64(r.Int63n(int64(Max) + 1)))
		if i%10 == 0 {
			b = a
		}
		c, err := Compare(a, b)
		if err != nil {
			t.Fatal(err)
		}
		na, _ := ToNumber(a)
		nb, _ := ToNumber(b)
		want := 0
		if na < nb {
			want = -1
		} else if nb < na {
			want = 1
		}
		if c != want {
			t.Fatalf("compare(%s,%s) = %d; numbers say %d", a, b, c, want)
		}
	}

	if _, err := Compare("bad", Zero()); err == nil {
		t.Fatal("should have complained")
	}
}
