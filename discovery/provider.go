// Package discovery resolves the peer node table CuckooStore routes data
// RPCs against (spec §4.9, §6's CUCKOO_CLUSTER_VIEW). Two Provider
// implementations sit behind one interface: a static comma-list and a
// Kubernetes Endpoints-backed one, selected by how CUCKOO_CLUSTER_VIEW is
// spelled (conf.Config.ClusterViewEndpoints reports which).
package discovery

import (
	"context"

	"github.com/cuckoofs/cuckoo/meta"
)

// Provider resolves the current set of peer nodes. Implementations may
// re-resolve on every call (the static list) or hit a control plane (k8s).
type Provider interface {
	Resolve(ctx context.Context) ([]meta.ServerIdentifier, error)
}
