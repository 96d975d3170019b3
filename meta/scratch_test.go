package meta_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/meta"
)

var _ = Describe("Scratch", func() {
	It("hands a task's encoding buffer to NewTaskWithScratch", func() {
		sc := meta.NewScratch()
		items := []meta.MetaProcessInfo{{Kind: meta.STAT, Path: "/a"}}
		task := meta.NewTaskWithScratch(meta.STAT, items, sc)

		task.Encode()
		Expect(task.Param.Bytes()).NotTo(BeEmpty())
	})

	It("retains a grown buffer across a Retain/PutScratch/NewScratch cycle", func() {
		sc := meta.NewScratch()
		items := []meta.MetaProcessInfo{{Kind: meta.STAT, Path: "/grow/past/initial/capacity"}}
		task := meta.NewTaskWithScratch(meta.STAT, items, sc)
		task.Encode()
		grown := task.Param.Bytes()

		sc.Retain(task)
		meta.PutScratch(sc)

		sc2 := meta.NewScratch()
		// Reset truncates length to zero but keeps the underlying array, so
		// a second Encode should reuse the same capacity Retain captured
		// instead of reallocating from scratch.
		Expect(cap(sc2.Param.Bytes())).To(BeNumerically(">=", len(grown)))
	})
})
