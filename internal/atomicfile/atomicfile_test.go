package atomicfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteTextCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")

	require.NoError(t, WriteText(path, []byte("hello")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestWriteTextOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	require.NoError(t, WriteText(path, []byte("old")))
	require.NoError(t, WriteText(path, []byte("new")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file")
}

func TestWriteTextConcurrentReadersNeverSeeTornContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	require.NoError(t, WriteText(path, []byte("aaaaaaaaaa")))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := WriteText(path, []byte("bbbbbbbbbb")); err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			if err := WriteText(path, []byte("aaaaaaaaaa")); err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if s := string(data); s != "aaaaaaaaaa" && s != "bbbbbbbbbb" {
				select {
				case errs <- nil:
				default:
				}
				t.Errorf("observed torn content: %q", s)
				return
			}
		}
	}()

	wg.Wait()
	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
}

func TestAppendLineAppendsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	require.NoError(t, AppendLine(path, []byte(`{"n":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"n":2}`)))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(got))
}
