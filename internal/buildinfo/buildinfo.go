// Package buildinfo carries version metadata injected with -ldflags at build time.
package buildinfo

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// Commit is the source revision.
	Commit = ""
	// BuildDate is the build timestamp.
	BuildDate = ""
)
