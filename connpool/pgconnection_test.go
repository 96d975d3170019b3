package connpool_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/connpool"
	"github.com/cuckoofs/cuckoo/meta"
)

var _ = Describe("PGConnection", func() {
	It("refuses a second task while the first is still claimed", func() {
		// loop() is never started, so nothing ever drains taskCh or clears
		// working: this isolates TryExec's admission decision from actual
		// execution timing.
		server := meta.ServerIdentifier{IP: "127.0.0.1", Port: 1234, ID: 1}
		c := connpool.NewPGConnection(0, server, &fakeTransport{})

		t1 := singleTask(meta.STAT, "a")
		Expect(c.TryExec(t1)).To(BeTrue())
		Expect(c.Working()).To(BeTrue())

		t2 := singleTask(meta.STAT, "b")
		Expect(c.TryExec(t2)).To(BeFalse())
	})

	It("accepts a new task once the previous one completes", func() {
		server := meta.ServerIdentifier{IP: "127.0.0.1", Port: 1234, ID: 1}
		ft := &fakeTransport{}
		c := connpool.NewPGConnection(0, server, ft)
		c.Start()
		defer c.Stop()

		t1 := singleTask(meta.STAT, "a")
		Expect(c.TryExec(t1)).To(BeTrue())
		Expect(t1.Wait()).To(Succeed())

		Eventually(c.Working).Should(BeFalse())

		t2 := singleTask(meta.STAT, "b")
		Expect(c.TryExec(t2)).To(BeTrue())
		Expect(t2.Wait()).To(Succeed())
	})
})
