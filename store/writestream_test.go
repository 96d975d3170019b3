package store_test

import (
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/store"
)

var _ = Describe("WriteStream", func() {
	const streamMax = 64

	It("S1 WriteThroughLocalSame: two concurrent writes larger than maxSize both write through", func() {
		var mu sync.Mutex
		var flushed int
		ws := store.NewWriteStream(streamMax, func(data []byte, offset int64) error {
			mu.Lock()
			flushed += len(data)
			mu.Unlock()
			return nil
		})

		buf := make([]byte, streamMax+1)
		var wg sync.WaitGroup
		results := make([]int, 2)
		wg.Add(2)
		for i := 0; i < 2; i++ {
			i := i
			go func() {
				defer wg.Done()
				n, err := ws.Append(buf, 0)
				Expect(err).NotTo(HaveOccurred())
				results[i] = n
			}()
		}
		wg.Wait()

		Expect(ws.GetSize()).To(Equal(int64(0)))
		Expect(flushed).To(Equal(2 * (streamMax + 1)))
	})

	It("S2 WriteThroughLocalDifferent: two concurrent non-overlapping oversize writes both write through", func() {
		var mu sync.Mutex
		var flushed int64
		ws := store.NewWriteStream(streamMax, func(data []byte, offset int64) error {
			mu.Lock()
			flushed += int64(len(data))
			mu.Unlock()
			return nil
		})

		buf := make([]byte, streamMax+1)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := ws.Append(buf, 0)
			Expect(err).NotTo(HaveOccurred())
		}()
		go func() {
			defer wg.Done()
			_, err := ws.Append(buf, int64(streamMax+1))
			Expect(err).NotTo(HaveOccurred())
		}()
		wg.Wait()

		Expect(ws.GetSize()).To(Equal(int64(0)))
		Expect(flushed).To(Equal(int64(2 * (streamMax + 1))))
	})

	It("S3 WriteBackRemoteSame: two concurrent small writes coalesce into one buffered region", func() {
		ws := store.NewWriteStream(streamMax, func(data []byte, offset int64) error {
			Fail("flush should not run while the buffered region stays under maxSize")
			return nil
		})

		buf := make([]byte, streamMax/2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			n, err := ws.Append(buf, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(streamMax / 2))
		}()
		go func() {
			defer wg.Done()
			// a second writer at the same offset, coalescing with the first
			n, err := ws.Append(buf, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(streamMax / 2))
		}()
		wg.Wait()

		Expect(ws.GetSize()).To(Equal(int64(streamMax / 2)))
	})
})
