package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cuckoofs/cuckoo/meta"
)

// StaticProvider resolves the literal CUCKOO_CLUSTER_VIEW comma list of
// "ip:port" or "ip:port:id" endpoints (spec §6). A bare "ip:port" is
// assigned an id by its position in the list, matching the order the
// original reads the env var in.
type StaticProvider struct {
	endpoints []string
}

func NewStaticProvider(endpoints []string) *StaticProvider {
	return &StaticProvider{endpoints: endpoints}
}

func (p *StaticProvider) Resolve(_ context.Context) ([]meta.ServerIdentifier, error) {
	out := make([]meta.ServerIdentifier, 0, len(p.endpoints))
	for i, ep := range p.endpoints {
		server, err := parseEndpoint(ep, int32(i))
		if err != nil {
			return nil, errors.Wrapf(err, "discovery: parsing endpoint %q", ep)
		}
		out = append(out, server)
	}
	return out, nil
}

func parseEndpoint(ep string, defaultID int32) (meta.ServerIdentifier, error) {
	parts := strings.Split(ep, ":")
	if len(parts) < 2 {
		return meta.ServerIdentifier{}, errors.Errorf("expected ip:port[:id], got %q", ep)
	}
	ip, portStr := parts[0], parts[1]
	if net.ParseIP(ip) == nil {
		return meta.ServerIdentifier{}, errors.Errorf("invalid ip %q", ip)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return meta.ServerIdentifier{}, errors.Wrap(err, "invalid port")
	}
	id := defaultID
	if len(parts) >= 3 {
		n, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil {
			return meta.ServerIdentifier{}, errors.Wrap(err, "invalid id")
		}
		id = int32(n)
	}
	return meta.ServerIdentifier{IP: ip, Port: uint16(port), ID: id}, nil
}
