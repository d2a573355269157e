package channelstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tau-run/tau/internal/atomicfile"
)

// MarkProcessed reports whether eventKey has already been processed and,
// if not, records it so a later redelivery of the same event is
// recognized. The processed-event set is FIFO-bounded: once it reaches
// processedCap entries, the oldest is dropped to make room for the new
// one, so long-lived conversations don't grow the file without bound.
func (s *Store) MarkProcessed(eventKey string) (alreadyProcessed bool, err error) {
	path := filepath.Join(s.dir, processedEventsName)
	keys, err := readProcessedKeys(path)
	if err != nil {
		return false, err
	}

	for _, k := range keys {
		if k == eventKey {
			return true, nil
		}
	}

	keys = append(keys, eventKey)
	limit := s.processedCap
	if limit <= 0 {
		limit = defaultProcessedCap
	}
	if len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	if err := writeProcessedKeys(path, keys); err != nil {
		return false, err
	}
	return false, nil
}

func readProcessedKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("channelstore: open %s: %w", path, err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			keys = append(keys, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("channelstore: read %s: %w", path, err)
	}
	return keys, nil
}

func writeProcessedKeys(path string, keys []string) error {
	var buf []byte
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, '\n')
	}
	return atomicfile.WriteText(path, buf)
}
