package fetch

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Extract writes every archive entry whose base name equals member into dir, flattening
// any directory prefix. All other entries are ignored and no directories are created.
// It returns the installed path.
func Extract(archive []byte, member, dir string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", &FetchError{Op: "unzip", Err: err}
	}

	dest := filepath.Join(dir, member)
	found := false
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		// Zip names always use forward slashes.
		if path.Base(entry.Name) != member {
			continue
		}
		if err := writeEntry(entry, dest); err != nil {
			return "", &FetchError{Op: "install", Err: err}
		}
		found = true
	}
	if !found {
		return "", fmt.Errorf("%w: no entry named %q", ErrDriverNotInArchive, member)
	}
	return dest, nil
}

// writeEntry streams entry into a temp file next to dest and renames it into place.
func writeEntry(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", entry.Name, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, rc); err != nil {
		return errors.Join(fmt.Errorf("writing %s: %w", dest, err), tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("closing %s: %w", tmpName, err), os.Remove(tmpName))
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return errors.Join(fmt.Errorf("chmod %s: %w", tmpName, err), os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.Join(fmt.Errorf("renaming into %s: %w", dest, err), os.Remove(tmpName))
	}
	return nil
}
