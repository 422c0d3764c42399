// Package version carries build metadata injected at link time via
// -ldflags "-X github.com/banshee-data/odometry.report/internal/version.Version=...".
package version

var (
	// Version is the current release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
