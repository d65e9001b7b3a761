/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Version and Commit are set at build time via ldflags:
//
//	-X github.com/friendsincode/holdkeeper/internal/version.Version=X.Y.Z
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("holdkeeper %s (commit %s, %s)", i.Version, i.Commit, i.GoVersion)
}
