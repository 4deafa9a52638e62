package pathutil

import "testing"

func TestExpandTilde(t *testing.T) {
	t.Setenv("HOME", "/home/testuser")

	cases := []struct {
		in   string
		want string
	}{
		{"~/data/base.json", "/home/testuser/data/base.json"},
		{"~", "/home/testuser"},
		{"/absolute/path.json", "/absolute/path.json"},
		{"relative/path.json", "relative/path.json"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExpandTilde(tc.in); got != tc.want {
			t.Errorf("ExpandTilde(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandTildeNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	if got := ExpandTilde("~/data"); got != "~/data" {
		t.Errorf("ExpandTilde = %q, want unchanged", got)
	}
}
