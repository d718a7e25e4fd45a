/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"bytes"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
)

// Set at build time via -ldflags "-X ...".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

// BuildTime serializes as an RFC 3339 string, or null when unknown.
type BuildTime struct {
	time.Time
}

func (t BuildTime) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte("\"" + t.Time.UTC().Format(time.RFC3339) + "\""), nil
}

func (t *BuildTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	parsed, parseErr := time.Parse("\""+time.RFC3339+"\"", string(data))
	if parseErr != nil {
		return parseErr
	}
	t.Time = parsed
	return nil
}

type VersionOutput struct {
	Version    string    `json:"version"`
	CommitHash string    `json:"commitHash,omitempty"`
	BuildTime  BuildTime `json:"buildTimestamp"`
}

func Version() VersionOutput {
	return VersionOutput{
		Version:    productVersion(),
		CommitHash: CommitHash,
		BuildTime:  BuildTime{parseBuildTimestamp(BuildTimestamp)},
	}
}

func productVersion() string {
	if ProductVersion == "" {
		return DevelopmentVersion
	}
	return ProductVersion
}

// The build timestamp is either Unix seconds or an RFC 3339 string.
func parseBuildTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	if unixSeconds, parseErr := strconv.ParseInt(ts, 10, 64); parseErr == nil {
		return time.Unix(unixSeconds, 0)
	}
	if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		return parsed
	}
	return time.Time{}
}
