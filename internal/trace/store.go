package trace

import (
	"os"
	"path/filepath"
)

// IndexFile is the well-known file a successful trace write leaves behind.
// Its absence after a write means the runtime never actually flushed.
const IndexFile = "trace.json"

// dirName is the fixed subdirectory holding a captured trace, created next
// to the program being debugged.
const dirName = ".revdbg-trace"

// DirFor returns the trace directory for a program path.
func DirFor(program string) string {
	return filepath.Join(filepath.Dir(program), dirName)
}

// Store prepares and inspects the on-disk trace destination.
type Store struct{}

// Prepare ensures dir exists and is empty. A prior capture's contents are
// removed recursively.
func (Store) Prepare(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// IndexExists reports whether the trace index file is present in dir.
func (Store) IndexExists(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, IndexFile))
	return err == nil && !fi.IsDir()
}
