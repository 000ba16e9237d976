package main

import (
	"archive/zip"
	"sort"
	"testing"
)

func TestUnderPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/a.txt", "/", true},
		{"/sub/b.txt", "/", true},
		{"/sub/b.txt", "/sub", true},
		{"/sub", "/sub", true},
		{"/subdir/b.txt", "/sub", false},
		{"/a.txt", "/sub", false},
	}
	for _, tc := range tests {
		if got := underPrefix(tc.path, tc.prefix); got != tc.want {
			t.Errorf("underPrefix(%q, %q) = %v, want %v", tc.path, tc.prefix, got, tc.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("../../evil"); got != ".._.._evil" {
		t.Errorf("got %q", got)
	}
	if got := sanitizeFilename("C:\\user"); got != "C__user" {
		t.Errorf("got %q", got)
	}
	if got := sanitizeFilename("plain-user"); got != "plain-user" {
		t.Errorf("got %q", got)
	}
}

func TestWriteArchivePrefixFilter(t *testing.T) {
	c := newTestCore(t)
	_ = c.AddFile("/sub/b.txt", []byte("b"))
	_ = c.AddFile("/sub/deep/c.txt", []byte("c"))
	drain(t, c)

	path, err := c.writeArchive("/sub", "alice")
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"sub/b.txt", "sub/deep/c.txt"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("members = %v, want %v", names, want)
	}
}
