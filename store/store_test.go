package store_test

import (
	"bytes"
	"context"
	"os"
	"sync"

	"github.com/pierrec/lz4/v3"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/client"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/store"
)

// fakeMetaTransport is an in-memory metadata backend keyed by path, enough
// to drive client.Connection without a real PGConnection.
type fakeMetaTransport struct {
	mu      sync.Mutex
	entries map[string]meta.Stat
	nextIno uint64
	node    int32
}

func newFakeMetaTransport(node int32) *fakeMetaTransport {
	return &fakeMetaTransport{entries: make(map[string]meta.Stat), nextIno: 1000, node: node}
}

func (f *fakeMetaTransport) Call(_ context.Context, _ meta.ServerIdentifier, kind meta.ServiceKind, req []byte) ([]byte, error) {
	var in meta.SerializedData
	in.Wrap(req)
	n := in.Count()

	var out meta.SerializedData
	pos := 0
	for i := 0; i < n; i++ {
		payload, span := in.RecordAt(pos)
		var item meta.MetaProcessInfo
		Expect(meta.DecodeParam(kind, payload, &item)).To(BeTrue())
		f.apply(kind, &item)
		meta.EncodeResponse(&out, &item)
		pos += span
	}
	return append([]byte(nil), out.Bytes()...), nil
}

func (f *fakeMetaTransport) apply(kind meta.ServiceKind, item *meta.MetaProcessInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch kind {
	case meta.CREATE:
		if _, ok := f.entries[item.Path]; ok {
			item.ErrorCode = cerr.FILE_EXISTS
			return
		}
		f.nextIno++
		st := meta.Stat{Ino: f.nextIno}
		f.entries[item.Path] = st
		item.St = st
		item.NodeID = f.node
		item.ErrorCode = cerr.SUCCESS
	case meta.OPEN, meta.STAT:
		st, ok := f.entries[item.Path]
		if !ok {
			item.ErrorCode = cerr.NOT_FOUND
			return
		}
		item.St = st
		item.NodeID = f.node
		item.ErrorCode = cerr.SUCCESS
	case meta.CLOSE:
		st := f.entries[item.Path]
		st.Size = item.St.Size
		f.entries[item.Path] = st
		item.ErrorCode = cerr.SUCCESS
	case meta.UNLINK:
		st, ok := f.entries[item.Path]
		if !ok {
			item.ErrorCode = cerr.NOT_FOUND
			return
		}
		delete(f.entries, item.Path)
		item.InodeID = st.Ino
		item.St = st
		item.NodeID = f.node
		item.ErrorCode = cerr.SUCCESS
	default:
		item.ErrorCode = cerr.SUCCESS
	}
}

// fakePeer fails every call; these tests only exercise the local-node
// routing path.
type fakePeer struct{}

func (fakePeer) ReadBlock(context.Context, meta.ServerIdentifier, uint64, int32, int, []byte) (int, bool, error) {
	return 0, false, os.ErrNotExist
}
func (fakePeer) ReadSmallFile(context.Context, meta.ServerIdentifier, uint64, int32) ([]byte, error) {
	return nil, os.ErrNotExist
}
func (fakePeer) AppendWrite(context.Context, meta.ServerIdentifier, uint64, int32, []byte, int64) error {
	return os.ErrNotExist
}
func (fakePeer) Truncate(context.Context, meta.ServerIdentifier, uint64, int32, int64) error {
	return os.ErrNotExist
}
func (fakePeer) CloseCommit(context.Context, meta.ServerIdentifier, uint64, int32, int64, int64) error {
	return os.ErrNotExist
}

// fakeCold never has anything stored; every Get reports not found.
type fakeCold struct{}

func (fakeCold) Get(context.Context, string) ([]byte, error) { return nil, os.ErrNotExist }
func (fakeCold) Put(context.Context, string, []byte) error   { return nil }
func (fakeCold) Delete(context.Context, string) error        { return nil }
func (fakeCold) Stat(context.Context, string) (int64, error) { return 0, os.ErrNotExist }

// concurrencyCold counts how many Get calls are in flight at once, blocking
// each on release so a test can observe the peak before letting them
// complete.
type concurrencyCold struct {
	mu        sync.Mutex
	active    int
	maxActive int
	release   chan struct{}
}

func (c *concurrencyCold) Get(context.Context, string) ([]byte, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()

	<-c.release

	c.mu.Lock()
	c.active--
	c.mu.Unlock()

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, _ = w.Write([]byte("cold"))
	_ = w.Close()
	return buf.Bytes(), nil
}
func (*concurrencyCold) Put(context.Context, string, []byte) error   { return nil }
func (*concurrencyCold) Delete(context.Context, string) error        { return nil }
func (*concurrencyCold) Stat(context.Context, string) (int64, error) { return 0, os.ErrNotExist }

var _ = Describe("CuckooStore", func() {
	var (
		cs      *store.CuckooStore
		cfg     *conf.Config
		cacheDir string
	)

	BeforeEach(func() {
		var err error
		cacheDir, err = os.MkdirTemp("", "cuckoo-store-test-")
		Expect(err).NotTo(HaveOccurred())

		cfg = &conf.Config{
			CacheRoot:       cacheDir,
			TotalDirectory:  4,
			BlockSize:       16,
			BigFileReadSize: 1 << 20, // keep every test file on the small-file path
			ConnPoolSize:    2,
			PendingQueueMax: 64,
			BatchTaskMax:    8,
		}

		const localNode = int32(7)
		transport := newFakeMetaTransport(localNode)
		servers := map[int32]meta.ServerIdentifier{0: {IP: "127.0.0.1", Port: 1, ID: 0}}
		conn := client.NewConnection(cfg, servers, transport)

		cs, err = store.NewCuckooStore(cfg, conn, fakeCold{}, fakePeer{}, localNode,
			map[int32]meta.ServerIdentifier{localNode: {IP: "127.0.0.1", Port: 2, ID: localNode}}, 1)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = cs.Close()
		_ = os.RemoveAll(cacheDir)
	})

	It("S4-style round trip: write then read a small local file at different offsets", func() {
		oi, code := cs.Open("/a.txt", os.O_WRONLY|os.O_CREATE, 0o644)
		Expect(code).To(Equal(cerr.SUCCESS))

		pattern := []byte("0123456789abcdef")
		n, code := cs.Write(oi, pattern, 0)
		Expect(code).To(Equal(cerr.SUCCESS))
		Expect(n).To(Equal(len(pattern)))
		Expect(oi.CurrentSize.Load()).To(Equal(int64(len(pattern))))

		Expect(cs.CloseFile(oi, 0)).To(Equal(cerr.SUCCESS))

		ro, code := cs.Open("/a.txt", os.O_RDONLY, 0)
		Expect(code).To(Equal(cerr.SUCCESS))

		const readSize = 4
		var wg sync.WaitGroup
		results := make([][]byte, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			buf := make([]byte, readSize)
			n, code := cs.Read(context.Background(), ro, buf, 0)
			Expect(code).To(Equal(cerr.SUCCESS))
			Expect(n).To(Equal(readSize))
			results[0] = append([]byte(nil), buf...)
		}()
		go func() {
			defer wg.Done()
			buf := make([]byte, readSize)
			n, code := cs.Read(context.Background(), ro, buf, readSize)
			Expect(code).To(Equal(cerr.SUCCESS))
			Expect(n).To(Equal(readSize))
			results[1] = append([]byte(nil), buf...)
		}()
		wg.Wait()

		Expect(results[0]).To(Equal(pattern[0:readSize]))
		Expect(results[1]).To(Equal(pattern[readSize : 2*readSize]))

		Expect(cs.CloseFile(ro, 0)).To(Equal(cerr.SUCCESS))
	})

	It("grows CurrentSize correctly under concurrent writes at different offsets", func() {
		oi, code := cs.Open("/concurrent.txt", os.O_WRONLY|os.O_CREATE, 0o644)
		Expect(code).To(Equal(cerr.SUCCESS))

		const n = 64
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				_, code := cs.Write(oi, []byte{byte(i)}, int64(i))
				Expect(code).To(Equal(cerr.SUCCESS))
			}(i)
		}
		wg.Wait()

		Expect(oi.CurrentSize.Load()).To(Equal(int64(n)))
	})

	It("bounds concurrent cold-backend fetches to ColdFetchConcurrency", func() {
		Expect(os.Setenv("TEST_OBS", "1")).To(Succeed())
		defer os.Unsetenv("TEST_OBS")

		coldDir, err := os.MkdirTemp("", "cuckoo-store-cold-test-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(coldDir)

		coldCfg, err := conf.Load("")
		Expect(err).NotTo(HaveOccurred())
		coldCfg.CacheRoot = coldDir
		coldCfg.TotalDirectory = 4
		coldCfg.BlockSize = 16
		coldCfg.BigFileReadSize = 1 << 20
		coldCfg.ConnPoolSize = 2
		coldCfg.PendingQueueMax = 64
		coldCfg.BatchTaskMax = 8
		coldCfg.ColdFetchConcurrency = 2

		const localNode = int32(9)
		transport := newFakeMetaTransport(localNode)
		servers := map[int32]meta.ServerIdentifier{0: {IP: "127.0.0.1", Port: 1, ID: 0}}
		conn := client.NewConnection(coldCfg, servers, transport)

		cold := &concurrencyCold{release: make(chan struct{})}
		coldStore, err := store.NewCuckooStore(coldCfg, conn, cold, fakePeer{}, localNode,
			map[int32]meta.ServerIdentifier{localNode: {IP: "127.0.0.1", Port: 2, ID: localNode}}, 1)
		Expect(err).NotTo(HaveOccurred())
		defer coldStore.Close()

		const fileCount = 5
		ois := make([]*store.OpenInstance, fileCount)
		for i := range ois {
			oi, code := coldStore.Open("/cold"+string(rune('a'+i))+".txt", os.O_RDONLY|os.O_CREATE, 0o644)
			Expect(code).To(Equal(cerr.SUCCESS))
			ois[i] = oi
		}

		var wg sync.WaitGroup
		wg.Add(fileCount)
		for _, oi := range ois {
			go func(oi *store.OpenInstance) {
				defer wg.Done()
				buf := make([]byte, 4)
				_, code := coldStore.Read(context.Background(), oi, buf, 0)
				Expect(code).To(Equal(cerr.SUCCESS))
			}(oi)
		}

		Eventually(func() int {
			cold.mu.Lock()
			defer cold.mu.Unlock()
			return cold.active
		}).Should(Equal(2))

		Consistently(func() int {
			cold.mu.Lock()
			defer cold.mu.Unlock()
			return cold.maxActive
		}).Should(BeNumerically("<=", 2))

		close(cold.release)
		wg.Wait()

		Expect(cold.maxActive).To(Equal(2))
	})

	It("resolves a second O_CREATE open of an existing file via OPEN and unlinks it cleanly", func() {
		_, code := cs.Open("/dup.txt", os.O_WRONLY|os.O_CREATE, 0o644)
		Expect(code).To(Equal(cerr.SUCCESS))

		_, code = cs.Open("/dup.txt", os.O_WRONLY|os.O_CREATE, 0o644)
		Expect(code).To(Equal(cerr.SUCCESS)) // second open resolves via OPEN, not CREATE

		Expect(cs.Unlink("/dup.txt")).To(Equal(cerr.SUCCESS))

		_, code = cs.Open("/dup.txt", os.O_RDONLY, 0)
		Expect(code).To(Equal(cerr.NOT_FOUND))
	})
})
