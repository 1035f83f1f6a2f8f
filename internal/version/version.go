// Package version carries the build identity stamped in via -ldflags.
package version

var (
	// Version is the focuslock release version.
	Version = "dev"
	// GitSHA is the git commit SHA of the build.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
