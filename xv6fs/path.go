package xv6fs

import "strings"

// truncateName copies up to DIRSIZ bytes of s, silently dropping the rest,
// matching how a fixed-width directory entry has no room for more.
func truncateName(s string) string {
	if len(s) > DIRSIZ {
		return s[:DIRSIZ]
	}
	return s
}

// skipelem consumes the next path element from path, returning it together
// with the remainder of the path. It skips any number of leading slashes
// and stops at the next slash or end of string. An element longer than
// DIRSIZ bytes is silently truncated to DIRSIZ bytes, the same as copying
// it into a fixed-width name buffer that's too small to hold the rest.
//
// skipelem("a/bb/c", ...)  -> elem="a",  rest="bb/c"
// skipelem("///a/b", ...)  -> elem="a",  rest="b"
// skipelem("", ...)        -> elem="",   rest="", ok=false
func skipelem(path string) (elem string, rest string, ok bool) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", "", false
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return truncateName(path[:i]), strings.TrimLeft(path[i:], "/"), true
	}
	return truncateName(path), "", true
}

// splitpath divides path into its parent directory and final element, e.g.
// splitpath("/a/bb/c") -> ("/a/bb", "c"). A bare name with no slash yields
// an empty parent, meaning "relative to the root". The returned name is
// truncated to DIRSIZ bytes, same as skipelem.
func splitpath(path string) (parent string, name string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", truncateName(path)
	}
	parent = path[:i]
	if parent == "" {
		parent = "/"
	}
	return parent, truncateName(path[i+1:])
}
