package store_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/store"
)

// fixedBlockFetcher hands back the same block every time WaitPush asks,
// marking eof on the block index given at construction.
type fixedBlockFetcher struct {
	data    []byte
	eofAt   int
}

func (f *fixedBlockFetcher) FetchBlock(blockIndex int, dst []byte) (int, bool, error) {
	n := copy(dst, f.data)
	return n, blockIndex >= f.eofAt, nil
}

var _ = Describe("Pipe", func() {
	It("round-trips a push through one or more pops, in order", func() {
		payload := bytes.Repeat([]byte{0xAB}, 37)
		p := store.NewPipe(64)
		fetcher := &fixedBlockFetcher{data: payload, eofAt: 0}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = p.WaitPush(0, fetcher)
		}()

		out := make([]byte, 0, len(payload))
		buf := make([]byte, 10)
		for len(out) < len(payload) {
			n, _, _ := p.WaitPop(buf)
			out = append(out, buf[:n]...)
		}
		<-done
		Expect(out).To(Equal(payload))
	})

	It("returns end=true with n=0 on every pop once the pipe is destroyed", func() {
		p := store.NewPipe(16)
		p.Destroy() // destroyed pipes behave like an immediately-terminal stream for this check

		n, drained, end := p.WaitPop(make([]byte, 16))
		Expect(n).To(Equal(0))
		Expect(drained).To(BeFalse())
		Expect(end).To(BeTrue())

		n, _, end = p.WaitPop(make([]byte, 16))
		Expect(n).To(Equal(0))
		Expect(end).To(BeTrue())
	})
})
