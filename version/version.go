// Package version holds build metadata injected at link time via
// -ldflags "-X github.com/lectern-audio/lectern/version.GitRelease=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag or branch of the build.
	GitRelease = "dev"

	// GitCommit is the commit hash of the build.
	GitCommit = "unknown"

	// GitCommitDate is the commit timestamp of the build.
	GitCommitDate = "unknown"

	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
