package version

import "runtime"

// Set at build time with -ldflags "-X rdispatch/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	Arch = runtime.GOARCH
	OS   = runtime.GOOS
)
