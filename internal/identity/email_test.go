package identity

import "testing"

func TestValidEmail(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"bob@123.com", true},
		{"user@changefirst.com", true},
		{"first.last+tag@sub.example.org", true},
		{"a@localhost", true},
		{"MonkeyBallz", false},
		{"", false},
		{"a@", false},
		{"@example.com", false},
		{"bob@@example.com", false},
		{"bob smith@example.com", false},
		{" bob@example.com", false},
		{"bob@example..com", false},
	}
	for _, tc := range cases {
		if got := ValidEmail(tc.in); got != tc.want {
			t.Fatalf("ValidEmail(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
