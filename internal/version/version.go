// Package version carries build identification, injected at link time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3 ..."
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
