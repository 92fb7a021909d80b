// Package version carries the build metadata of the throttle binaries.
// The variables are stamped via -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Name is the product name reported by String and UserAgent.
const Name = "throttle"

var (
	// Version is the release tag or commit hash.
	// Set via: -ldflags "-X throttle/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the ISO 8601 UTC build timestamp.
	// Set via: -ldflags "-X throttle/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the commit SHA the binary was built from.
	// Set via: -ldflags "-X throttle/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info holds build metadata plus the identity of this running instance.
// InstanceID tells replicas sharing one counter store apart in logs and traces.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process-wide Info. The instance ID is generated once.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s)", Name, i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is the value outbound HTTP clients identify themselves with.
func (i Info) UserAgent() string {
	return Name + "/" + i.Version
}
