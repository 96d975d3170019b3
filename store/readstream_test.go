package store_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/store"
)

// patternFetcher serves a file of fileSize bytes in blockSize chunks, each
// block filled with its own index so out-of-order delivery would be
// visible in the assembled output.
type patternFetcher struct {
	fileSize  int
	blockSize int
}

func (f *patternFetcher) FetchBlock(blockIndex int, dst []byte) (int, bool, error) {
	start := blockIndex * f.blockSize
	if start >= f.fileSize {
		return 0, true, nil
	}
	end := start + f.blockSize
	last := end >= f.fileSize
	if last {
		end = f.fileSize
	}
	n := end - start
	for i := 0; i < n; i++ {
		dst[i] = byte(blockIndex)
	}
	return n, last, nil
}

var _ = Describe("ReadStream", func() {
	It("delivers every byte of the file in order with a short final read", func() {
		const blockSize = 16
		const fileSize = blockSize*3 + 5 // not a multiple of blockSize
		fetcher := &patternFetcher{fileSize: fileSize, blockSize: blockSize}
		fileBlocks := (fileSize + blockSize - 1) / blockSize

		rs := store.NewReadStream(fetcher, fileBlocks, blockSize, 4)
		rs.StartPushThreaded()
		defer rs.Stop()

		var out []byte
		buf := make([]byte, blockSize)
		for {
			n := rs.WaitPop(buf)
			out = append(out, buf[:n]...)
			if n < blockSize {
				break
			}
		}

		Expect(len(out)).To(Equal(fileSize))
		var want []byte
		for b := 0; b < fileBlocks; b++ {
			n, _, _ := fetcher.FetchBlock(b, make([]byte, blockSize))
			want = append(want, bytes.Repeat([]byte{byte(b)}, n)...)
		}
		Expect(out).To(Equal(want))
	})

	It("ReadStreamReadExceed: a single WaitPop of 2*blockSize advances the pipe cursor by exactly 2", func() {
		const blockSize = 8
		const pipeNum = 4
		const fileBlocks = 6
		fetcher := &patternFetcher{fileSize: blockSize * fileBlocks, blockSize: blockSize}

		rs := store.NewReadStream(fetcher, fileBlocks, blockSize, pipeNum)
		rs.StartPushThreaded()
		defer rs.Stop()

		buf := make([]byte, 2*blockSize)
		n := rs.WaitPop(buf)
		Expect(n).To(Equal(2 * blockSize))

		// A further pop must come from pipe index 2 (0 and 1 fully drained):
		// its first byte is block 2's fill value.
		next := make([]byte, 1)
		rs.WaitPop(next)
		Expect(next[0]).To(Equal(byte(2)))
	})

	It("ReadStreamReadHalf: two half-block pops leave the cursor on the same pipe then advance by one", func() {
		const blockSize = 8
		const pipeNum = 4
		const fileBlocks = 6
		fetcher := &patternFetcher{fileSize: blockSize * fileBlocks, blockSize: blockSize}

		rs := store.NewReadStream(fetcher, fileBlocks, blockSize, pipeNum)
		rs.StartPushThreaded()
		defer rs.Stop()

		half := make([]byte, blockSize/2)
		n := rs.WaitPop(half)
		Expect(n).To(Equal(blockSize / 2))
		Expect(half).To(Equal(bytes.Repeat([]byte{0}, blockSize/2)))

		n = rs.WaitPop(half)
		Expect(n).To(Equal(blockSize / 2))
		Expect(half).To(Equal(bytes.Repeat([]byte{0}, blockSize/2)))

		// The pipe holding block 0 is now drained; the next byte must come
		// from block 1.
		next := make([]byte, 1)
		rs.WaitPop(next)
		Expect(next[0]).To(Equal(byte(1)))
	})
})
