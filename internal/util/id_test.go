package util

import "testing"

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 24 {
		t.Fatalf("unexpected id length %d", len(a))
	}
	if a == b {
		t.Fatalf("ids collided: %s", a)
	}
}

func TestFileExt(t *testing.T) {
	cases := []struct {
		name, want string
	}{
		{"photo.jpg", "jpg"},
		{"archive.tar.gz", "tar.gz"},
		{"noext", ""},
		{"", ""},
		{".hidden", "hidden"},
	}
	for _, tc := range cases {
		if got := FileExt(tc.name); got != tc.want {
			t.Fatalf("FileExt(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
