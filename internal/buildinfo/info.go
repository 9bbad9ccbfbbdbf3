package buildinfo

import "fmt"

// Set at build time with -ldflags "-X ...".
var (
	Version    = "v0.1.0"
	CommitHash = "unknown"
)

type Info struct {
	Service    string `json:"service,omitempty"`
	Version    string `json:"version,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

func GetBuildInfo() Info {
	return Info{
		Service:    "trustbroker",
		Version:    Version,
		CommitHash: CommitHash,
	}
}

// UserAgent identifies the broker and its clients in outgoing requests.
func UserAgent(component string) string {
	return fmt.Sprintf("trustbroker-%s/%s (%s)", component, Version, CommitHash)
}
