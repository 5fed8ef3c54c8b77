// Package version exposes the application identity used in log lines, the
// /healthz response, and the MCP client handshake.
//
// The commit hash comes from -ldflags when set (container builds without
// .git), otherwise from the VCS stamp in debug.BuildInfo, otherwise "dev".
package version

import "runtime/debug"

// AppName identifies this binary to peers and in version strings.
const AppName = "prism"

// commitOverride is injected via -ldflags at build time. Empty means no
// override.
var commitOverride string

// Commit is the short git commit hash, or "dev" when no build metadata is
// available (plain `go test`, non-git checkouts).
var Commit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "prism/<commit>" for user-agent strings and startup logs.
func Full() string {
	return AppName + "/" + Commit
}
