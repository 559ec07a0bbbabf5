package fileutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SafeReadJSON reads the JSON file at the path into the targetPointer.
// Returns false without an error if the file exists but is empty.
// A missing file is reported as an error that matches os.ErrNotExist.
func SafeReadJSON(filePath string, targetPointer any) (jsonAvailable bool, err error) {
	fileBytes, err := SafeReadFile(filePath)
	if err != nil {
		return false, err
	}
	if len(fileBytes) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(fileBytes, targetPointer)
}

// SafeReadYAML reads the YAML file at the path into the targetPointer.
// Unknown fields are rejected.
func SafeReadYAML(filePath string, targetPointer any) (yamlAvailable bool, err error) {
	fp, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("unable to open file: %s, %w", filePath, err)
	}
	defer func() {
		_ = fp.Close()
	}()
	decoder := yaml.NewDecoder(fp)
	decoder.KnownFields(true)
	err = decoder.Decode(targetPointer)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return err == nil, err
}

// SafeReadFile reads the file at the provided path into a byte slice.
func SafeReadFile(filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %s, %w", filePath, err)
	}
	bytes, readErr := io.ReadAll(file)
	if err = file.Close(); err != nil {
		log.Errorf("failed to close file: %s", filePath)
	}
	return bytes, readErr
}

// SafeWriteJSON writes the provided object as indented JSON to the provided path.
// The data is written to a temporary file in the same directory, flushed to disk and
// then renamed over the target, so readers either see the old or the new content.
func SafeWriteJSON[T any](filePath string, targetPointer *T) error {
	data, err := json.MarshalIndent(targetPointer, "", "  ")
	if err != nil {
		return err
	}
	return SafeWriteFile(filePath, append(data, '\n'), 0600)
}

// SafeWriteFile atomically replaces the file at filePath with data.
func SafeWriteFile(filePath string, data []byte, perm os.FileMode) error {
	fp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := fp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpPath)
	}()
	w := &syncCloser{f: fp}
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err = errors.Join(fp.Chmod(perm), w.Close()); err != nil {
		return err
	}
	return ReplaceFile(tmpPath, filePath)
}

// EnsureDir creates dirPath and all missing parents.
func EnsureDir(dirPath string) error {
	exists, isDir, err := ExistsAndIsDirectory(dirPath)
	if err != nil {
		return err
	}
	if exists && !isDir {
		return fmt.Errorf("%s exists and is not a directory", dirPath)
	}
	return os.MkdirAll(dirPath, 0755)
}

// ExistsAndIsDirectory reports whether path exists and whether it is a directory.
func ExistsAndIsDirectory(path string) (exists, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// RemoveIfExists removes the file at path, a missing file is not an error.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// syncCloser flushes the file to disk before closing it.
type syncCloser struct {
	f *os.File
}

func (s *syncCloser) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *syncCloser) Close() error {
	return errors.Join(
		s.f.Sync(),
		s.f.Close(),
	)
}
