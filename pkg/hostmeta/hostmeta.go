// =============================================================================
// pkg/hostmeta/hostmeta.go - Deployment Host Metadata
// =============================================================================
//
// Experiment runs carry a hosts.json next to the logs describing where each
// node ran: a JSON array of host objects keyed by IP. The metadata is purely
// descriptive; analysis works without it and reports fall back to empty
// placement fields.
//
// =============================================================================

package hostmeta

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Host is the placement metadata of one deployment host.
type Host struct {
	IP       string `json:"ip"`
	Region   string `json:"region,omitempty"`
	Zone     string `json:"zone,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Load reads a hosts.json file and indexes it by IP. A missing file is not
// an error: it yields an empty index.
func Load(path string) (map[string]Host, error) {
	byIP := make(map[string]Host)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return byIP, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read hosts file %s", path)
	}

	var hosts []Host
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, errors.Wrapf(err, "failed to parse hosts file %s", path)
	}

	for _, host := range hosts {
		if host.IP != "" {
			byIP[host.IP] = host
		}
	}
	return byIP, nil
}
