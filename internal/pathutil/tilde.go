// Package pathutil contains small path helpers shared by the CLI and config.
package pathutil

import (
	"os"
	"strings"
)

// ExpandTilde replaces a leading ~ with the user's home directory.
// Paths without a leading ~ are returned unchanged, as are paths when
// $HOME is unset.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		return path
	}
	return home + path[1:]
}
