package loader

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Resolve turns specifier into its canonical form so duplicates collapse.
//
//   - "./x" and "../x" are resolved against base, which is required. A path
//     base yields a plain path, a URL base yields a URL.
//   - URLs with a scheme and absolute paths have their dot segments removed.
//   - Anything else (a bare name) is already canonical.
func Resolve(specifier, base string) (string, error) {
	s := strings.TrimSpace(specifier)
	if s == "" {
		return "", &ArgumentError{Op: "resolve", Field: "specifier", Message: "specifier must not be empty"}
	}

	if isRelative(s) {
		if base == "" {
			return "", &ArgumentError{Op: "resolve", Field: "specifier",
				Message: fmt.Sprintf("relative specifier %q requires a base", s)}
		}
		if strings.HasPrefix(base, "/") {
			return resolvePath(s, base), nil
		}
		b, err := url.Parse(base)
		if err != nil || b.Scheme == "" {
			return "", &ArgumentError{Op: "resolve", Field: "base",
				Message: fmt.Sprintf("base %q must be an absolute URL or path", base)}
		}
		ref, err := url.Parse(s)
		if err != nil {
			return "", &ArgumentError{Op: "resolve", Field: "specifier", Message: err.Error()}
		}
		return b.ResolveReference(ref).String(), nil
	}

	if strings.HasPrefix(s, "/") {
		return path.Clean(s), nil
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		if u.Path != "" {
			u.Path = path.Clean(u.Path)
			u.RawPath = ""
		}
		return u.String(), nil
	}
	return s, nil
}

// resolvePath resolves a relative specifier against a filesystem base. The
// result is unescaped like any absolute path specifier, so both spellings of
// a file collapse to one entry.
func resolvePath(specifier, base string) string {
	dir := base
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir)
	}
	return path.Join(dir, specifier)
}

func isRelative(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}
