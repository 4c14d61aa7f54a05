package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// Write writes data to filename via a sibling temp file, fsync, and rename.
//
// Readers holding the target open concurrently observe either the old or the
// new complete bytes, never a torn file. A crash mid-write orphans the temp
// file and leaves the target untouched.
func Write(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	f, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	ok := false
	defer func() {
		_ = f.Close()
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// On Windows, os.Rename does not overwrite an existing destination.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return err
	}
	ok = true
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(filename string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return Write(filename, b)
}

// ReadJSON unmarshals the file into v. A missing file returns os.ErrNotExist
// unwrapped by errors.Is; callers treat it as empty state.
func ReadJSON(filename string, v any) error {
	b, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// MkdirAll creates dir and parents with conventional permissions.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
