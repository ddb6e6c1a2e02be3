// Package version provides build-time version information.
//
// Set at build time via:
//
//	go build -ldflags "-X github.com/mfateev/agentchat/internal/version.GitCommit=$(git rev-parse --short HEAD)"
package version

// Version is the release version.
var Version = "0.1.0"

// GitCommit is the short git commit hash, set at build time via ldflags.
var GitCommit = "dev"

// String returns the version and commit, e.g. "0.1.0 (dev)".
func String() string {
	return Version + " (" + GitCommit + ")"
}
