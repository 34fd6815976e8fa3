// Package version provides build version information for the auth client.
//
// Version, git commit, and build time are set at compile time via
// -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/authkit/version.Version=1.0.0"
package version
