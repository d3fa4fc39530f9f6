// Package filesystem resolves the paths railsync is configured with.
package filesystem

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// OwnerReadWriteExec is the mode of directories railsync creates.
const OwnerReadWriteExec = 0o700

// GetUserHomeDirectory returns the user home directory if one is set.
func GetUserHomeDirectory() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// GetCanonicalPath returns an os-specific path for p:
// a leading ~ is replaced with the user's home directory, ${vars} and $vars
// are expanded and the result is cleaned. Empty paths stay empty.
func GetCanonicalPath(p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home := GetUserHomeDirectory(); home != "" {
			p = home + p[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

// ExistOrCreate creates the directory at path if it doesn't exist.
func ExistOrCreate(path string) error {
	return os.MkdirAll(path, OwnerReadWriteExec)
}
