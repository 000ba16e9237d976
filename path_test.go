package main

import "testing"

func TestValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/a.txt", true},
		{"/dir/a.txt", true},
		{"", false},
		{"a.txt", false},
		{"/dir/", false},
		{"/dir//a.txt", false},
		{"/dir/../a.txt", false},
		{"/./a.txt", false},
		{"/..", false},
	}
	for _, tc := range tests {
		if got := ValidPath(tc.path); got != tc.want {
			t.Errorf("ValidPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"a.txt", "/a.txt"},
		{"dir/a.txt", "/dir/a.txt"},
		{"dir\\a.txt", "/dir/a.txt"},
		{"./a.txt", "/a.txt"},
		{"", "/"},
	}
	for _, tc := range tests {
		if got := NormalizePath(tc.rel); got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}
