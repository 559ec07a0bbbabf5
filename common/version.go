package common

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var version string

// Version returns the current version of patchslot.
func Version() string {
	return strings.TrimSpace(version)
}
