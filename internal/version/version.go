package version

import "runtime"

// These variables will be set at build time via -ldflags
var (
	Version   = "dev"
	CommitID  = "unknown"
	BuildTime = "unknown"
)

// Info returns structured build information.
func Info() map[string]string {
	return map[string]string{
		"Version":   Version,
		"GitCommit": CommitID,
		"BuildTime": BuildTime,
		"GoVersion": runtime.Version(),
		"OS":        runtime.GOOS,
		"Arch":      runtime.GOARCH,
	}
}
