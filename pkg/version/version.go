// Copyright (c) OpenMMLab. All rights reserved.

package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Variables injected at compile time
var (
	LauncherVersion = ""                // varuna-launch version v1.0.0
	CtlVersion      = ""                // varunactl version
	APIVersion      = "v1"              // control record version line
	FeatureFlags    = map[string]bool{} // Feature flags
	Commit          = "unknown"         // Git commit hash
	BuildTime       = "unset"           // Build time
	BuildTag        = "beta"            // Build tag dev alpha beta rc stable hotfix
)

// Version information
type VersionInfo struct {
	LauncherVersion string
	CtlVersion      string
	APIVersion      string
	FeatureFlags    map[string]bool
	Commit          string
	BuildTime       string
	BuildTag        string
}

func GetStructuredVersion() VersionInfo {
	return VersionInfo{
		LauncherVersion: LauncherVersion,
		CtlVersion:      CtlVersion,
		APIVersion:      APIVersion,
		FeatureFlags:    FeatureFlags,
		Commit:          resolveCommit(),
		BuildTime:       BuildTime,
		BuildTag:        BuildTag,
	}
}

// GetLauncherVersionInfo is the one line logged when a launch starts.
func GetLauncherVersionInfo() string {
	if commit := resolveCommit(); commit != "unknown" {
		return fmt.Sprintf("%s-%s (commit: %s, built: %s)",
			LauncherVersion, BuildTag, commit, BuildTime)
	}
	return fmt.Sprintf("%s-%s (built: %s)", LauncherVersion, BuildTag, BuildTime)
}

// GetCtlVersionInfo is the indented block the version subcommand prints.
func GetCtlVersionInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  - Version: %s\n", CtlVersion)
	if commit := resolveCommit(); commit != "unknown" {
		fmt.Fprintf(&b, "  - Commit: %s\n", commit)
	}
	fmt.Fprintf(&b, "  - Build Time: %s\n", BuildTime)
	fmt.Fprintf(&b, "  - Build Tag: %s\n", BuildTag)
	return b.String()
}

// resolveCommit prefers the injected commit hash and falls back to the
// revision the Go toolchain stamped into the binary.
func resolveCommit() string {
	if Commit != "" && Commit != "unknown" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if revision == "" {
		return "unknown"
	}
	if modified == "true" {
		revision += "+localmod"
	}
	return revision
}
