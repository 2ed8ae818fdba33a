package hint

import (
	"fmt"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		hint    string
		def     int
		want    int
	}{
		{"basic", "/*+ PARALLEL(8) FULL(A) */", 1, 8},
		{"spaced", "/*+ PARALLEL ( 16 ) */", 1, 16},
		{"lowercase", "/*+ parallel(4) */", 1, 4},
		{"no_parallel", "/*+ FULL(A) */", 1, 1},
		{"empty", "", 1, 1},
		{"custom_default", "", 3, 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Parse(c.hint, c.def)
			if got != c.want {
				t.Errorf("Parse(%q, %d) = %d, want %d", c.hint, c.def, got, c.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	if got := Build(8, true); got != "/*+ PARALLEL(8) FULL(A) */" {
		t.Errorf("Build(8,true) = %q", got)
	}
	if got := Build(16, false); got != "/*+ PARALLEL(16) */" {
		t.Errorf("Build(16,false) = %q", got)
	}
}

func TestAdjust(t *testing.T) {
	cases := []struct {
		name string
		hint string
		n    int
		want string
	}{
		{"preserves_full", "/*+ PARALLEL(8) FULL(A) */", 4, "/*+ PARALLEL(4) FULL(A) */"},
		{"preserves_index", "/*+ PARALLEL(16) INDEX(B) */", 2, "/*+ PARALLEL(2) INDEX(B) */"},
		{"synthesizes_if_absent", "", 5, "/*+ PARALLEL(5) FULL(A) */"},
		{"synthesizes_if_no_lexeme", "/*+ FULL(A) */", 5, "/*+ PARALLEL(5) FULL(A) */"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Adjust(c.hint, c.n)
			if got != c.want {
				t.Errorf("Adjust(%q, %d) = %q, want %q", c.hint, c.n, got, c.want)
			}
		})
	}
}

// TestParseAdjustRoundTrip exercises spec invariant 4: parse(adjust(h, n)) = n.
func TestParseAdjustRoundTrip(t *testing.T) {
	hints := []string{
		"",
		"/*+ PARALLEL(8) FULL(A) */",
		"/*+ FULL(A) */",
		"/*+ PARALLEL(1) INDEX(B) */",
	}
	for _, h := range hints {
		for n := 1; n <= 64; n *= 2 {
			h, n := h, n
			t.Run(fmt.Sprintf("%s_%d", h, n), func(t *testing.T) {
				adjusted := Adjust(h, n)
				if got := Parse(adjusted, -1); got != n {
					t.Errorf("parse(adjust(%q, %d)) = %d, want %d", h, n, got, n)
				}
			})
		}
	}
}
