// Package hostid derives a stable, non-reversible tag for the running host.
package hostid

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

const appID = "momentum-trader"

var (
	once   sync.Once
	cached string
)

// ID returns a short host tag. The machine id is HMAC-protected with the
// application id; hosts without one fall back to the hostname.
func ID() string {
	once.Do(func() {
		cached = resolve(machineid.ProtectedID, os.Hostname)
	})
	return cached
}

func resolve(protected func(string) (string, error), hostname func() (string, error)) string {
	if id, err := protected(appID); err == nil && id != "" {
		if len(id) > 16 {
			id = id[:16]
		}
		return id
	}
	if name, err := hostname(); err == nil && name != "" {
		return "host-" + name
	}
	return "unknown"
}
