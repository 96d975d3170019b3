package connpool_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/connpool"
	"github.com/cuckoofs/cuckoo/meta"
)

// fakeTransport decodes every request record back into MetaProcessInfo,
// records the paths it saw (for FIFO assertions), optionally sleeps (for
// concurrency assertions), and replies with SUCCESS for every item.
type fakeTransport struct {
	mu       sync.Mutex
	seen     []string
	delay    time.Duration
	fail     bool
	inFlight int
	maxInFl  int
}

func (f *fakeTransport) Call(_ context.Context, _ meta.ServerIdentifier, kind meta.ServiceKind, req []byte) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFl {
		f.maxInFl = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fail {
		return nil, errBoom
	}

	var in meta.SerializedData
	in.Wrap(req)
	n := in.Count()
	Expect(n).NotTo(Equal(meta.ErrCorrupt))

	var out meta.SerializedData
	pos := 0
	for i := 0; i < n; i++ {
		payload, span := in.RecordAt(pos)
		Expect(span).NotTo(Equal(meta.ErrCorrupt))
		var item meta.MetaProcessInfo
		Expect(meta.DecodeParam(kind, payload, &item)).To(BeTrue())

		f.mu.Lock()
		f.seen = append(f.seen, item.Path)
		f.mu.Unlock()

		item.ErrorCode = cerr.SUCCESS
		meta.EncodeResponse(&out, &item)
		pos += span
	}
	return append([]byte(nil), out.Bytes()...), nil
}

var errBoom = cerr.New(cerr.IO_ERROR, "boom")

func singleTask(kind meta.ServiceKind, path string) *meta.Task {
	return meta.NewTask(kind, []meta.MetaProcessInfo{{Kind: kind, Path: path}})
}

var _ = Describe("PGConnectionPool", func() {
	var server meta.ServerIdentifier

	BeforeEach(func() {
		server = meta.ServerIdentifier{IP: "127.0.0.1", Port: 1234, ID: 1}
	})

	It("preserves FIFO order within a batch kind", func() {
		ft := &fakeTransport{}
		cfg := &conf.Config{ConnPoolSize: 1, PendingQueueMax: 32, BatchTaskMax: 8}
		pool := connpool.NewPGConnectionPool(cfg, server, ft)
		defer pool.Stop()

		tasks := make([]*meta.Task, 8)
		for i := 0; i < 8; i++ {
			tasks[i] = singleTask(meta.STAT, string(rune('a'+i)))
			pool.DispatchAsyncMetaServiceJob(tasks[i])
		}
		for _, t := range tasks {
			Expect(t.Wait()).To(Succeed())
			Expect(t.Items[0].ErrorCode).To(Equal(cerr.SUCCESS))
		}

		ft.mu.Lock()
		defer ft.mu.Unlock()
		Expect(ft.seen).To(Equal([]string{"a", "b", "c", "d", "e", "f", "g", "h"}))
	})

	It("never runs two tasks concurrently on one connection", func() {
		ft := &fakeTransport{delay: 30 * time.Millisecond}
		cfg := &conf.Config{ConnPoolSize: 1, PendingQueueMax: 32, BatchTaskMax: 1}
		pool := connpool.NewPGConnectionPool(cfg, server, ft)
		defer pool.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				t := singleTask(meta.STAT, string(rune('a'+i)))
				pool.DispatchAsyncMetaServiceJob(t)
				Expect(t.Wait()).To(Succeed())
			}(i)
		}
		wg.Wait()

		ft.mu.Lock()
		defer ft.mu.Unlock()
		Expect(ft.maxInFl).To(Equal(1))
	})

	It("applies backpressure when the pending queue is full", func() {
		ft := &fakeTransport{delay: 50 * time.Millisecond}
		cfg := &conf.Config{ConnPoolSize: 1, PendingQueueMax: 1, BatchTaskMax: 1}
		pool := connpool.NewPGConnectionPool(cfg, server, ft)
		defer pool.Stop()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 4; i++ {
				pool.DispatchAsyncMetaServiceJob(singleTask(meta.STAT, "x"))
			}
			close(done)
		}()

		select {
		case <-done:
			Fail("dispatch of 4 tasks onto a depth-1 pending queue and single " +
				"slow connection should not finish near-instantly")
		case <-time.After(20 * time.Millisecond):
		}
		Eventually(done, 2*time.Second).Should(BeClosed())
	})

	It("fails every queued task with PROGRAM_ERROR on Stop", func() {
		ft := &fakeTransport{delay: time.Second}
		cfg := &conf.Config{ConnPoolSize: 1, PendingQueueMax: 8, BatchTaskMax: 1}
		pool := connpool.NewPGConnectionPool(cfg, server, ft)

		blocking := singleTask(meta.STAT, "busy")
		pool.DispatchAsyncMetaServiceJob(blocking)
		time.Sleep(10 * time.Millisecond) // let it occupy the only connection

		queued := singleTask(meta.STAT, "queued")
		pool.DispatchAsyncMetaServiceJob(queued)

		pool.Stop()
		Expect(queued.Items[0].ErrorCode).To(Equal(cerr.PROGRAM_ERROR))
	})
})
