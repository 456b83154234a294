// Package pathutil provides checks for slash-separated archive paths.
package pathutil

import (
	"iter"
	"path"
	"strings"
)

// Normalize converts a raw entry name to its canonical slash-separated form.
//
// Backslashes become slashes, empty and "." segments are dropped, and a
// trailing slash is kept so directory entries stay recognizable. The second
// result is false when the name is empty, absolute, carries a drive letter
// or NUL byte, or contains a ".." segment.
func Normalize(raw string) (string, bool) {
	if raw == "" || strings.IndexByte(raw, 0) >= 0 {
		return "", false
	}
	name := strings.ReplaceAll(raw, `\`, "/")
	if strings.HasPrefix(name, "/") || hasDriveLetter(name) {
		return "", false
	}
	isDir := strings.HasSuffix(name, "/")

	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", false
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "", false
	}
	out := strings.Join(kept, "/")
	if isDir {
		out += "/"
	}
	return out, true
}

// ValidLayerName reports whether name can be used as a single directory
// component under the destination root.
func ValidLayerName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00") && !hasDriveLetter(name)
}

// SafeLinkTarget reports whether a symbolic link stored at entryName and
// pointing at target stays within the tree rooted at the layer directory.
func SafeLinkTarget(entryName, target string) bool {
	if target == "" || strings.IndexByte(target, 0) >= 0 {
		return false
	}
	target = strings.ReplaceAll(target, `\`, "/")
	if strings.HasPrefix(target, "/") || hasDriveLetter(target) {
		return false
	}
	resolved := path.Join(path.Dir(strings.TrimSuffix(entryName, "/")), target)
	return resolved != ".." && !strings.HasPrefix(resolved, "../")
}

// Ancestors yields the parent directories of name from the top down, so
// "a/b/c.txt" yields "a" then "a/b".
func Ancestors(name string) iter.Seq[string] {
	return func(yield func(string) bool) {
		name = strings.TrimSuffix(name, "/")
		for i := range len(name) {
			if name[i] == '/' && !yield(name[:i]) {
				return
			}
		}
	}
}

// LinkThroughLink reports whether resolving target from the directory of
// the link stored at entryName steps through a path for which isLink is
// true before the last component. Such a chain can leave the layer even
// when every target stays inside it on its own.
func LinkThroughLink(entryName, target string, isLink func(string) bool) bool {
	target = strings.ReplaceAll(target, `\`, "/")
	var stack []string
	if dir := Parent(entryName); dir != "" {
		stack = strings.Split(dir, "/")
	}
	parts := strings.Split(target, "/")
	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		stack = append(stack, part)
		if i < len(parts)-1 && isLink(strings.Join(stack, "/")) {
			return true
		}
	}
	return false
}

// Parent returns the slash-separated parent directory of name, or "" for
// top-level names.
func Parent(name string) string {
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return ""
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
