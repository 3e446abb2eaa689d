package main

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X main.version=v0.2.0 \
//	    -X main.gitCommit=$(git rev-parse --short HEAD) \
//	    -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/host
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// BuildInfo identifies the running host binary in the startup log.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
	Platform  string
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		GitCommit: gitCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the build info as one human-readable line.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s, %s, %s)",
		b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}
