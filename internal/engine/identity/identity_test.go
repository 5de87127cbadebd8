package identity

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Bob":        "bob",
		"bob ":       "bob",
		"  ALICE\t":  "alice",
		"":           "",
		"Mixed Case": "mixed case",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q)=%q want %q", in, got, want)
		}
	}
	if !Same("Bob", "bob ") {
		t.Fatalf("Bob and 'bob ' should be one identity")
	}
}
