package conn

import (
	"fmt"
	"net"
	"strconv"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

// Descriptor is a resolved, connection-ready dial target.
type Descriptor struct {
	Key    identity.NodeKey
	Host   string
	Port   uint16
	Intent Intent
}

// Addr returns the dialable host:port form.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// Resolve derives a descriptor from a directory record and an intent.
// It is pure: no I/O, no state. Malformed input is a descriptive error,
// never a silently substituted default.
func Resolve(rec directory.Record, intent Intent) (Descriptor, error) {
	if rec.Key.IsZero() {
		return Descriptor{}, fmt.Errorf("conn: resolve: record has zero node key")
	}
	if rec.Host == "" {
		return Descriptor{}, fmt.Errorf("conn: resolve: record for %s has empty host", rec.Key.Short())
	}
	if rec.Port == 0 {
		return Descriptor{}, fmt.Errorf("conn: resolve: record for %s has zero port", rec.Key.Short())
	}
	if !intent.Valid() {
		return Descriptor{}, fmt.Errorf("conn: resolve: unknown intent %d", intent)
	}
	return Descriptor{Key: rec.Key, Host: rec.Host, Port: rec.Port, Intent: intent}, nil
}
