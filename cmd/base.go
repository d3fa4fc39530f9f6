// Package cmd holds the build information and command line flags shared by
// railsync executables.
package cmd

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the App. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// VersionInfo returns a one line description of the build.
func VersionInfo() string {
	version := Version
	if version == "" {
		version = "dev"
	}
	if Commit == "" {
		return version
	}
	return version + "+" + Branch + "." + Commit
}
