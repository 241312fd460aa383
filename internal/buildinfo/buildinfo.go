// Package buildinfo holds build-time metadata that is not user-configurable.
package buildinfo

import "runtime/debug"

// UnknownValue is reported when a build value was not injected.
const UnknownValue = "unknown"

// Version is set at link time:
//
//	go build -ldflags "-X github.com/tphakala/panns-go/internal/buildinfo.Version=v0.1.0"
var Version string

// GetVersion returns the injected version, then the module version recorded
// by the Go toolchain, then UnknownValue.
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return UnknownValue
}

// Release returns the release name reported to telemetry, "panns-go@<version>".
func Release() string {
	return "panns-go@" + GetVersion()
}
