// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the exporter release
	Version = "v1.0.0-dev"
	// GitCommit is the git commit that was compiled
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
	// GoVersion is the version of Go that was used to compile
	GoVersion = runtime.Version()
)

// Info is served on /version and logged at startup.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}

// UserAgent identifies a component in outbound requests, e.g.
// "vsan-servicediscovery/v1.0.0".
func UserAgent(component string) string {
	return "vsan-" + component + "/" + Version
}
