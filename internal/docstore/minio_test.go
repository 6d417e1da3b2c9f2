package docstore

import "testing"

func TestKeyLayout(t *testing.T) {
	got := Key("ws_1", "rs_9", "amendment v3.txt")
	want := "ws_1/rs_9/amendment v3.txt"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"amendment-v3.txt", "amendment-v3.txt"},
		{"../../etc/passwd", "passwd"},
		{`..\..\windows\system.ini`, "system.ini"},
		{"term sheet (final).docx", "term sheet _final_.docx"},
		{"", "upload"},
		{"...", "..."},
	}
	for _, tc := range cases {
		if got := sanitizeFileName(tc.in); got != tc.want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
