package sgxbuild

import (
	"fmt"
	"path/filepath"
)

// Canonicalize resolves p against base when it is relative, follows symlinks
// and cleans "." and "..". The result is absolute and exists on disk.
// base must be the directory that declared p, never the working directory.
func Canonicalize(p, base string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathResolution)
	}
	joined := p
	if !filepath.IsAbs(p) {
		joined = filepath.Join(base, p)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPathResolution, joined, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPathResolution, resolved, err)
	}
	return abs, nil
}
