// Package version carries build information injected with -ldflags, e.g.
//
//	-X github.com/lgc202/apikit/version.gitVersion=v1.2.0
//	-X github.com/lgc202/apikit/version.gitCommit=$(git rev-parse HEAD)
//
// Builds without ldflags fall back to the module and VCS data embedded by the
// Go toolchain.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/gosuri/uitable"
)

const devVersion = "v0.0.0-dev"

var (
	// gitVersion is vMAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
	gitVersion = ""
	// buildDate is ISO8601, $(date -u +'%Y-%m-%dT%H:%M:%SZ').
	buildDate = ""
	gitCommit = ""
	// gitTreeState is clean or dirty.
	gitTreeState = ""
)

// Info describes the running binary.
type Info struct {
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit,omitempty"`
	GitTreeState string `json:"gitTreeState,omitempty"`
	BuildDate    string `json:"buildDate,omitempty"`
	GoVersion    string `json:"goVersion"`
	Compiler     string `json:"compiler"`
	Platform     string `json:"platform"`
}

func (info Info) String() string {
	if info.GitTreeState == "dirty" {
		return info.GitVersion + "-dirty"
	}
	return info.GitVersion
}

func (info Info) ShortString() string {
	return info.GitVersion
}

func (info Info) ToJSON() (string, error) {
	s, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal version info: %w", err)
	}
	return string(s), nil
}

func (info Info) ToJSONIndent() (string, error) {
	s, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal version info: %w", err)
	}
	return string(s), nil
}

// Text renders info as an aligned two-column table. Empty optional fields
// are left out.
func (info Info) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.MaxColWidth = 80
	table.Separator = " "
	table.AddRow("gitVersion:", info.GitVersion)
	for _, row := range [][2]string{
		{"gitCommit:", info.GitCommit},
		{"gitTreeState:", info.GitTreeState},
		{"buildDate:", info.BuildDate},
	} {
		if row[1] != "" {
			table.AddRow(row[0], row[1])
		}
	}
	table.AddRow("goVersion:", info.GoVersion)
	table.AddRow("compiler:", info.Compiler)
	table.AddRow("platform:", info.Platform)
	return table.String()
}

// Format renders info as "text", "json" or "short".
func (info Info) Format(format string) (string, error) {
	switch format {
	case "", "text":
		return info.Text(), nil
	case "json":
		return info.ToJSONIndent()
	case "short":
		return info.ShortString(), nil
	default:
		return "", fmt.Errorf("unknown version format %q (want text, json or short)", format)
	}
}

// UserAgent returns "product/version (os/arch)".
func (info Info) UserAgent(product string) string {
	return fmt.Sprintf("%s/%s (%s)", product, info.String(), info.Platform)
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	if info.GitVersion == "" {
		info.GitVersion = devVersion
	}
	return info
}

// UserAgent is Get().UserAgent(product).
func UserAgent(product string) string {
	return Get().UserAgent(product)
}

func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.GitVersion == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.GitVersion = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if info.GitTreeState == "" {
				info.GitTreeState = "clean"
				if s.Value == "true" {
					info.GitTreeState = "dirty"
				}
			}
		}
	}
}
