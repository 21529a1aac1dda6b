// Package version holds the build-time version string of this module.
package version

// Version identifies this build. Overridden at link time with
// -ldflags "-X github.com/gokrazy/rsync/internal/version.Version=...".
var Version = "devel"
