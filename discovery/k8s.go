package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/cuckoofs/cuckoo/meta"
)

// K8sProvider resolves peers from a Kubernetes Endpoints object, the way a
// storage target discovers its cluster siblings in a k8s deployment.
// CUCKOO_CLUSTER_VIEW spells this as "k8s:<namespace>/<service>".
type K8sProvider struct {
	client    kubernetes.Interface
	namespace string
	service   string
}

// ParseK8sSpec splits "k8s:<namespace>/<service>" into its parts, or
// reports ok=false if spec isn't in that form.
func ParseK8sSpec(spec string) (namespace, service string, ok bool) {
	rest, found := strings.CutPrefix(spec, "k8s:")
	if !found {
		return "", "", false
	}
	ns, svc, found := strings.Cut(rest, "/")
	if !found || ns == "" || svc == "" {
		return "", "", false
	}
	return ns, svc, true
}

// NewK8sProvider builds a provider using the in-cluster service account
// config, the same discovery path the teacher's own k8s deployment uses.
func NewK8sProvider(namespace, service string) (*K8sProvider, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, errors.Wrap(err, "discovery: loading in-cluster config")
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "discovery: building k8s client")
	}
	return &K8sProvider{client: cs, namespace: namespace, service: service}, nil
}

func (p *K8sProvider) Resolve(ctx context.Context) ([]meta.ServerIdentifier, error) {
	ep, err := p.client.CoreV1().Endpoints(p.namespace).Get(ctx, p.service, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "discovery: fetching endpoints %s/%s", p.namespace, p.service)
	}
	var out []meta.ServerIdentifier
	id := int32(0)
	for _, subset := range ep.Subsets {
		port := dataPort(subset)
		for _, addr := range subset.Addresses {
			out = append(out, meta.ServerIdentifier{IP: addr.IP, Port: port, ID: nodeIDFor(addr, id)})
			id++
		}
	}
	return out, nil
}

// dataPort picks the Data RPC port from the subset's named ports, falling
// back to the default BRPC_PORT if the Endpoints object doesn't name one.
func dataPort(subset corev1.EndpointSubset) uint16 {
	for _, p := range subset.Ports {
		if p.Name == "data" || p.Name == "brpc" {
			return uint16(p.Port)
		}
	}
	if len(subset.Ports) > 0 {
		return uint16(subset.Ports[0].Port)
	}
	return 56039
}

// nodeIDFor derives a stable node id from the pod's own ordinal suffix
// when it has one (a StatefulSet pod name like "cuckoo-3"), else falls
// back to positional order.
func nodeIDFor(addr corev1.EndpointAddress, fallback int32) int32 {
	if addr.TargetRef == nil {
		return fallback
	}
	name := addr.TargetRef.Name
	if i := strings.LastIndexByte(name, '-'); i >= 0 {
		if n, err := strconv.ParseInt(name[i+1:], 10, 32); err == nil {
			return int32(n)
		}
	}
	return fallback
}
