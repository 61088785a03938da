package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{"", 10, 10},
		{"x", 5, 5},
		{"-7", 0, -7},
		{"3.5", 9, 9}, // not an int
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 1, 10); got != 5 {
		t.Fatalf("Clamp(5,1,10) = %d; want 5", got)
	}
	if got := Clamp(-3, 1, 10); got != 1 {
		t.Fatalf("Clamp(-3,1,10) = %d; want 1", got)
	}
	if got := Clamp(99, 1, 10); got != 10 {
		t.Fatalf("Clamp(99,1,10) = %d; want 10", got)
	}
}
