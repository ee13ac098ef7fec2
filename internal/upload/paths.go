package upload

import (
	"fmt"
	"path/filepath"
	"strings"
)

// sanitizeName strips any directory component from a client-supplied file
// name and rejects names that would vanish entirely.
func sanitizeName(name string) (string, error) {
	clean := filepath.Base(filepath.Clean(name))
	if clean == "" || clean == "." || clean == ".." || clean == string(filepath.Separator) {
		return "", newError(CodeInvalidRequest, "invalid file name %q", name)
	}
	return clean, nil
}

// resolveUserPath confines relativePath to the caller's root directory.
// Absolute paths and anything that cleans to a traversal out of the root
// are a PathViolation.
func resolveUserPath(userRoot, userID, relativePath string) (string, error) {
	root := filepath.Join(userRoot, userID)
	if relativePath == "" {
		return root, nil
	}
	if filepath.IsAbs(relativePath) {
		return "", newError(CodePathViolation, "path %q escapes user root", relativePath)
	}

	rel := filepath.Clean(relativePath)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", newError(CodePathViolation, "path %q escapes user root", relativePath)
	}

	dir := filepath.Join(root, rel)
	if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", newError(CodePathViolation, "path %q escapes user root", relativePath)
	}
	return dir, nil
}

// numberedVariant returns name with a " (n)" suffix before the extension,
// used to conflict-resolve destination paths.
func numberedVariant(name string, n int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}
