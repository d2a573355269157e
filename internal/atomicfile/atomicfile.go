// Package atomicfile provides the write-to-tempfile-then-rename primitive
// every durable store in Tau builds on: session files, channel logs,
// artifact indexes, event state, and the training attribution log all
// write through WriteText so readers never observe a torn file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteText writes content to path by creating a sibling temporary file
// in the same directory, syncing it, and renaming it over path. The
// rename is atomic on the same filesystem, so a concurrent reader of path
// observes either the prior content in full or the new content in full,
// never a partial write. The destination's parent directory must already
// exist.
func WriteText(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("atomicfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("atomicfile: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomicfile: rename temp to %s: %w", path, err)
	}
	return nil
}

// AppendLine atomically appends a single line (content plus a trailing
// newline) to path by reading the current file (if any), concatenating,
// and rewriting the whole file through WriteText. This keeps JSONL logs
// (session entries, channel log entries, artifact index rows) free of
// torn-write interleaving at the cost of rewriting the full file per
// append; callers with large logs should batch appends.
func AppendLine(path string, line []byte) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: read %s: %w", path, err)
	}
	buf := make([]byte, 0, len(existing)+len(line)+1)
	buf = append(buf, existing...)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return WriteText(path, buf)
}
