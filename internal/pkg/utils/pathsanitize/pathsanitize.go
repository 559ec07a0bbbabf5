package pathsanitize

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrOutsideTrustedRoot = errors.New("path is outside of trusted root")

// InTrustedRoot returns an error unless path lies strictly below trustedRoot.
// Both paths are made absolute before they are compared.
func InTrustedRoot(path, trustedRoot string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	trustedRoot, err = filepath.Abs(trustedRoot)
	if err != nil {
		return err
	}
	for {
		parent := filepath.Dir(path)
		if parent == trustedRoot {
			return nil
		}
		if parent == path {
			return ErrOutsideTrustedRoot
		}
		path = parent
	}
}

// IsFileName reports whether name is a single path element that stays in its directory.
func IsFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
