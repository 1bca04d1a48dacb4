// Package version exposes build metadata for the pagewalk binary.
//
// The variables are stamped at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/pagewalk/internal/version.Version=1.0.0 \
//	    -X github.com/jmylchreest/pagewalk/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false" // "true" when built from a modified tree
	BuildDate = "unknown"
)

// Info is the structured form printed by `pagewalk version --json`.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Dirty     bool   `json:"dirty" yaml:"dirty"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the version with a -dirty suffix for modified trees.
func String() string {
	if Dirty == "true" {
		return Version + "-dirty"
	}
	return Version
}

// UserAgent identifies pagewalk to sites fetched by the static backend.
func UserAgent() string {
	return "pagewalk/" + String() + " (+https://github.com/jmylchreest/pagewalk)"
}

// Full returns the multi-line form printed by `pagewalk version`.
func Full() string {
	info := Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "pagewalk %s\n", String())
	fmt.Fprintf(&sb, "  commit:   %s\n", info.Commit)
	fmt.Fprintf(&sb, "  built:    %s\n", info.BuildDate)
	fmt.Fprintf(&sb, "  go:       %s\n", info.GoVersion)
	fmt.Fprintf(&sb, "  platform: %s", info.Platform)
	return sb.String()
}
