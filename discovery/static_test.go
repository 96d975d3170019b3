package discovery_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/discovery"
	"github.com/cuckoofs/cuckoo/meta"
)

var _ = Describe("StaticProvider", func() {
	It("assigns positional ids to bare ip:port endpoints", func() {
		p := discovery.NewStaticProvider([]string{"10.0.0.1:56039", "10.0.0.2:56039"})
		out, err := p.Resolve(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]meta.ServerIdentifier{
			{IP: "10.0.0.1", Port: 56039, ID: 0},
			{IP: "10.0.0.2", Port: 56039, ID: 1},
		}))
	})

	It("honors an explicit id when given as ip:port:id", func() {
		p := discovery.NewStaticProvider([]string{"10.0.0.1:56039:7"})
		out, err := p.Resolve(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]meta.ServerIdentifier{{IP: "10.0.0.1", Port: 56039, ID: 7}}))
	})

	It("rejects a malformed endpoint", func() {
		p := discovery.NewStaticProvider([]string{"not-an-endpoint"})
		_, err := p.Resolve(context.Background())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseK8sSpec", func() {
	It("splits a well-formed spec", func() {
		ns, svc, ok := discovery.ParseK8sSpec("k8s:cuckoo-ns/cuckoo-svc")
		Expect(ok).To(BeTrue())
		Expect(ns).To(Equal("cuckoo-ns"))
		Expect(svc).To(Equal("cuckoo-svc"))
	})

	It("rejects anything without the k8s: prefix", func() {
		_, _, ok := discovery.ParseK8sSpec("10.0.0.1:56039")
		Expect(ok).To(BeFalse())
	})
})
