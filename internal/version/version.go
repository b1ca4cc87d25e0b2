// Package version provides build and version information for EscapeWright.
package version

import "fmt"

// Version is the current release version of EscapeWright.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/lodomo/EscapeWright/internal/version.Version=x.y.z"
var Version = "0.4.0"

// Commit is set at build time alongside Version.
var Commit = "dev"

// String renders "escapewright <component> <version> (<commit>)".
func String(component string) string {
	return fmt.Sprintf("escapewright %s %s (%s)", component, Version, Commit)
}
