/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

const DevelopmentVersion = "dev"

// Set at link time, e.g. -ldflags "-X github.com/qt-creator/qt-creator-sub115/internal/version.ProductVersion=1.2.0".
// BuildTimestamp is either Unix seconds or an RFC 3339 time.
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion"`
	Platform   string     `json:"platform"`
}

func Version() VersionOutput {
	output := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
		BuildTime:  parseBuildTimestamp(BuildTimestamp),
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if output.Version == "" {
		output.Version = DevelopmentVersion
	}

	// Builds that did not set the commit hash still carry the VCS revision, if built from a checkout.
	if output.CommitHash == "" {
		if info, found := debug.ReadBuildInfo(); found {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					output.CommitHash = setting.Value
				}
			}
		}
	}

	return output
}

func parseBuildTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.Unix(seconds, 0).UTC()
		return &t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	return nil
}
