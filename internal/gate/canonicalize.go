package gate

import (
	"os"
	"path/filepath"
)

// canonicalize resolves path to its canonical absolute form. If path
// exists, the OS canonicalizes it directly (resolving symlinks along the
// way via filepath.EvalSymlinks so AllowedRoots comparisons see the real
// target). If path (or some suffix of it) does not yet exist — the
// common case for a file a tool is about to create — canonicalize walks
// up to the nearest existing ancestor, canonicalizes that, and rejoins
// the missing tail uncanonicalized.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", newError(ReasonPathOutsideRoots, "resolve absolute path", err)
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up to the nearest existing ancestor.
	dir := filepath.Dir(abs)
	var tail []string
	tail = append(tail, filepath.Base(abs))
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rejoined := resolved
			for i := len(tail) - 1; i >= 0; i-- {
				rejoined = filepath.Join(rejoined, tail[i])
			}
			return rejoined, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding an existing
			// ancestor; fall back to the plain absolute path.
			return abs, nil
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
	}
}

// canonicalRoots canonicalizes each configured allowed root once, so
// every Check call compares against resolved forms.
func canonicalRoots(roots []string) ([]string, error) {
	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		c, err := canonicalize(r)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, c)
	}
	return resolved, nil
}

// withinRoots reports whether target (already canonical) starts with the
// canonical form of any root. An empty roots list allows all paths.
func withinRoots(target string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		if target == root {
			return true
		}
		if rel, err := filepath.Rel(root, target); err == nil {
			if rel != ".." && !hasDotDotPrefix(rel) {
				return true
			}
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || os.IsPathSeparator(rel[2]))
}
