package xv6fs

import "testing"

func TestSkipelem(t *testing.T) {
	cases := []struct {
		path string
		elem string
		rest string
		ok   bool
	}{
		{"a/bb/c", "a", "bb/c", true},
		{"///a/b", "a", "b", true},
		{"a", "a", "", true},
		{"", "", "", false},
		{"////", "", "", false},
		{"abcdefghijklmnop/x", "abcdefghijklmn", "x", true},
	}
	for _, c := range cases {
		elem, rest, ok := skipelem(c.path)
		if elem != c.elem || rest != c.rest || ok != c.ok {
			t.Errorf("skipelem(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.path, elem, rest, ok, c.elem, c.rest, c.ok)
		}
	}
}

func TestSplitpath(t *testing.T) {
	cases := []struct {
		path   string
		parent string
		name   string
	}{
		{"/a/bb/c", "/a/bb", "c"},
		{"/a", "/", "a"},
		{"a", "", "a"},
		{"/a/", "/", "a"},
		{"/abcdefghijklmnop", "/", "abcdefghijklmn"},
	}
	for _, c := range cases {
		parent, name := splitpath(c.path)
		if parent != c.parent || name != c.name {
			t.Errorf("splitpath(%q) = (%q, %q), want (%q, %q)",
				c.path, parent, name, c.parent, c.name)
		}
	}
}
