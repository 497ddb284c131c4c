package fileutil

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// WriteAtomic writes data to a temp file next to path and renames it over
// path, so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.With("dir", dir).Wrapf(err, "create directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return oops.With("path", path).Wrapf(err, "create temp file")
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return oops.With("path", path).Wrapf(err, "write temp file")
	}

	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return oops.With("path", path).Wrapf(err, "sync temp file")
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return oops.With("path", path).Wrapf(err, "close temp file")
	}

	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return oops.With("path", path).Wrapf(err, "replace file")
	}

	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.With("path", path).Wrapf(err, "marshal json")
	}

	return WriteAtomic(path, append(data, '\n'))
}

// ReadJSON decodes path into v. A missing file leaves v untouched and
// reports found=false.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("path", path).Wrapf(err, "read file")
	}

	if len(data) == 0 {
		return false, nil
	}

	if err = json.Unmarshal(data, v); err != nil {
		return true, oops.With("path", path).Wrapf(err, "parse json")
	}

	return true, nil
}

// ReadText returns the file content or "" when it does not exist.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", oops.With("path", path).Wrapf(err, "read file")
	}
	return string(data), nil
}

// Copy copies src to dst, creating dst's directory.
func Copy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return oops.With("src", src).Wrapf(err, "read source")
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return oops.With("dst", dst).Wrapf(err, "create directory")
	}

	if err = os.WriteFile(dst, data, 0o644); err != nil {
		return oops.With("dst", dst).Wrapf(err, "write copy")
	}

	return nil
}
