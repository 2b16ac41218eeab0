package directory

import (
	"github.com/meshwire/meshwire/meshwire/identity"
)

// SeedEntry is a seed record in its config-file form.
type SeedEntry struct {
	Key  string `yaml:"key"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// ParseSeeds converts configured seed entries into records.
// A malformed entry fails the whole parse; a deployment with a broken seed
// list should not come up half-bootstrapped.
func ParseSeeds(entries []SeedEntry) ([]Record, error) {
	recs := make([]Record, 0, len(entries))
	for _, e := range entries {
		key, err := identity.ParseNodeKeyHex(e.Key)
		if err != nil {
			return nil, err
		}
		rec := Record{Key: key, Host: e.Host, Port: e.Port}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
