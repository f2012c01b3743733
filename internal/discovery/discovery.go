// Package discovery advertises the control endpoint on the local network
// over mDNS so recording stations can be found without manual addressing.
package discovery

import (
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const serviceType = "_obs-ws._tcp"
const serviceDomain = "local."

// Advertiser holds a registered zeroconf service.
type Advertiser struct {
	server *zeroconf.Server
	log    zerolog.Logger
}

// Advertise registers the control endpoint under the given instance name.
// An empty instance defaults to "obsrelay (<hostname>)".
func Advertise(instance string, port int, log zerolog.Logger) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		instance = fmt.Sprintf("obsrelay (%s)", host)
	}

	server, err := zeroconf.Register(
		instance,
		serviceType,
		serviceDomain,
		port,
		[]string{"path=/", "format=text"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}

	log.Info().Str("instance", instance).Int("port", port).Msg("advertising control endpoint")
	return &Advertiser{server: server, log: log}, nil
}

// Shutdown unregisters the service.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.log.Info().Msg("stopped mdns advertisement")
}
