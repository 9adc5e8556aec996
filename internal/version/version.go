// Package version holds build information injected with -ldflags and the
// API compatibility check against the server's reported version.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Build information, set at compile time via -ldflags "-X supportchat/internal/version.Version=..."
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// SupportedAPI is the range of chat API versions this client speaks.
const SupportedAPI = ">= 1.0.0, < 3.0.0"

// Info is the version report printed by the version command.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetInfo returns the build information.
func GetInfo() (*Info, error) {
	if _, err := semver.NewVersion(Version); err != nil {
		return nil, fmt.Errorf("invalid semantic version '%s': %w", Version, err)
	}
	return &Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}, nil
}

// GetFormattedVersion returns a one-line version string.
func GetFormattedVersion() string {
	parts := []string{fmt.Sprintf("supportchat v%s", Version)}

	if GitCommit != "unknown" && GitCommit != "" {
		short := GitCommit
		if len(short) > 7 {
			short = short[:7]
		}
		parts = append(parts, fmt.Sprintf("commit %s", short))
	}
	if BuildDate != "unknown" && BuildDate != "" {
		parts = append(parts, fmt.Sprintf("built %s", BuildDate))
	}
	return strings.Join(parts, ", ")
}

// IsDevelopment reports whether build information was not injected.
func IsDevelopment() bool {
	return GitCommit == "unknown" || BuildDate == "unknown"
}

// CheckAPICompatibility reports whether the API version from a health check
// falls in SupportedAPI. An empty version is accepted since older servers do
// not report one.
func CheckAPICompatibility(apiVersion string) (bool, error) {
	if strings.TrimSpace(apiVersion) == "" {
		return true, nil
	}
	v, err := semver.NewVersion(apiVersion)
	if err != nil {
		return false, fmt.Errorf("invalid API version '%s': %w", apiVersion, err)
	}
	c, err := semver.NewConstraint(SupportedAPI)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// SetBuildInfo sets build information (used for testing).
func SetBuildInfo(version, gitCommit, buildDate string) {
	Version = version
	GitCommit = gitCommit
	BuildDate = buildDate
}
