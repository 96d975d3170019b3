package discovery

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/meta"
)

// ResolveCluster turns cfg.ClusterView into a node-id -> endpoint map,
// picking the static or k8s Provider the value names. Every caller that
// needs the cluster view (cuckoo-node, cuckoo-cli) goes through this
// instead of re-parsing CUCKOO_CLUSTER_VIEW itself.
func ResolveCluster(ctx context.Context, cfg *conf.Config) (map[int32]meta.ServerIdentifier, error) {
	endpoints, isProviderSpec := cfg.ClusterViewEndpoints()

	var provider Provider
	if isProviderSpec {
		ns, svc, ok := ParseK8sSpec(cfg.ClusterView)
		if !ok {
			return nil, errors.Errorf("discovery: unrecognized provider spec %q", cfg.ClusterView)
		}
		k8sProvider, err := NewK8sProvider(ns, svc)
		if err != nil {
			return nil, err
		}
		provider = k8sProvider
	} else {
		provider = NewStaticProvider(endpoints)
	}

	list, err := provider.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]meta.ServerIdentifier, len(list))
	for _, s := range list {
		out[s.ID] = s
	}
	return out, nil
}
