package hk_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/hk"
)

var _ = Describe("Housekeeper", func() {
	var h *hk.Housekeeper

	BeforeEach(func() {
		h = hk.New()
	})

	AfterEach(func() {
		h.Stop()
	})

	It("fires a callback immediately when no initial interval is given", func() {
		fired := make(chan struct{}, 1)
		h.Reg("immediate", func() time.Duration {
			fired <- struct{}{}
			return time.Hour
		})
		Eventually(fired, "100ms").Should(Receive())
	})

	It("delays the first fire by the given initial interval", func() {
		fired := make(chan struct{}, 1)
		h.Reg("delayed", func() time.Duration {
			fired <- struct{}{}
			return time.Hour
		}, 150*time.Millisecond)

		Consistently(fired, "80ms").ShouldNot(Receive())
		Eventually(fired, "200ms").Should(Receive())
	})

	It("reschedules using the duration the callback returns", func() {
		fireCount := make(chan struct{}, 8)
		h.Reg("repeat", func() time.Duration {
			fireCount <- struct{}{}
			return 50 * time.Millisecond
		})

		Eventually(fireCount, "100ms").Should(Receive())
		Eventually(fireCount, "100ms").Should(Receive())
		Eventually(fireCount, "100ms").Should(Receive())
	})

	It("stops firing once unregistered", func() {
		fireCount := 0
		done := make(chan struct{})
		h.Reg("cancelme", func() time.Duration {
			fireCount++
			return 30 * time.Millisecond
		})

		time.Sleep(100 * time.Millisecond)
		h.Unreg("cancelme")
		countAtUnreg := fireCount

		go func() {
			time.Sleep(150 * time.Millisecond)
			close(done)
		}()
		<-done

		Expect(fireCount).To(Equal(countAtUnreg))
	})

	It("replaces a prior registration under the same name", func() {
		oldFired := make(chan struct{}, 1)
		newFired := make(chan struct{}, 1)

		h.Reg("slot", func() time.Duration {
			oldFired <- struct{}{}
			return time.Hour
		}, time.Hour)
		h.Reg("slot", func() time.Duration {
			newFired <- struct{}{}
			return time.Hour
		})

		Eventually(newFired, "100ms").Should(Receive())
		Consistently(oldFired, "100ms").ShouldNot(Receive())
	})
})
