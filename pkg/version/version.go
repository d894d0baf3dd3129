// Package version carries the build metadata stamped into aicoder
// binaries.
package version

// Stamped by the release build, e.g.
// go build -ldflags "-X aicoder/pkg/version.Version=v0.3.0".
//
//nolint:gochecknoglobals // ldflags can only target package-level vars.
var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"

	// Commit is the git SHA the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)
