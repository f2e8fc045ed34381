// Package pathutil confines output paths to a root directory.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Redact shortens a path to .../<parent>/<basename> for error messages.
func Redact(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// Within resolves path against root and returns its absolute form. Relative
// paths are taken relative to root. It fails when the result, after
// resolving symlinks on the deepest existing ancestor, is outside root.
func Within(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains null byte")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve root: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	abs := filepath.Clean(path)

	resolvedRoot, err := resolve(rootAbs)
	if err != nil {
		return "", err
	}
	resolved, err := resolve(abs)
	if err != nil {
		return "", err
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%q is outside %s", Redact(abs), Redact(rootAbs))
	}
	return abs, nil
}

// resolve evaluates symlinks on the deepest existing ancestor of p and
// re-appends the missing tail.
func resolve(p string) (string, error) {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r, nil
	}
	parent := filepath.Dir(p)
	if parent == p {
		return "", fmt.Errorf("cannot resolve path: %s", Redact(p))
	}
	r, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(r, filepath.Base(p)), nil
}
