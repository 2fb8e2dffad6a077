package hostsurface

import "testing"

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"plain":        "plain",
		"a/b":          "a_b",
		"../../etc":    ".._.._etc",
		"weird key!!":  "weird_key__",
		"":             "_",
		"dots.and-dash": "dots.and-dash",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
