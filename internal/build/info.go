// Package build carries the stagehost version stamped in at link time:
//
//	go build -ldflags "-X github.com/Duskaraa/Plots-Manager/internal/build.Version=v1.2.0 \
//	  -X github.com/Duskaraa/Plots-Manager/internal/build.CommitSHA=$(git rev-parse --short HEAD)"
package build

import (
	"fmt"
	"log/slog"
)

// Set via -ldflags; unstamped builds report "dev".
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// String renders the build stamp for `stagehost version`.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, CommitSHA, BuildDate)
}

// Attrs returns the build stamp as log attributes.
func Attrs() []any {
	return []any{
		slog.String("version", Version),
		slog.String("commit", CommitSHA),
		slog.String("build_date", BuildDate),
	}
}
