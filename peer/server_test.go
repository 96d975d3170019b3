package peer_test

import (
	"context"
	"net"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/peer"
)

// fakeBackend is an in-memory peer.Backend keyed by inode id, enough to
// drive the Data RPC server end to end without real disk.
type fakeBackend struct {
	mu    sync.Mutex
	files map[uint64][]byte
}

func newFakeBackend() *fakeBackend { return &fakeBackend{files: make(map[uint64][]byte)} }

func (f *fakeBackend) ReadBlockLocal(inodeID uint64, blockIndex, blockSize int) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.files[inodeID]
	start := blockIndex * blockSize
	if start >= len(data) {
		return nil, true, nil
	}
	end := start + blockSize
	eof := end >= len(data)
	if eof {
		end = len(data)
	}
	return append([]byte(nil), data[start:end]...), eof, nil
}

func (f *fakeBackend) ReadSmallFileLocal(inodeID uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.files[inodeID]...), nil
}

func (f *fakeBackend) AppendWriteLocal(inodeID uint64, data []byte, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.files[inodeID]
	need := int(offset) + len(data)
	if len(cur) < need {
		grown := make([]byte, need)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], data)
	f.files[inodeID] = cur
	return nil
}

func (f *fakeBackend) TruncateLocal(inodeID uint64, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.files[inodeID]
	if int64(len(cur)) > size {
		f.files[inodeID] = cur[:size]
	}
	return nil
}

func (f *fakeBackend) CloseCommitLocal(uint64, int64, int64) error { return nil }

var _ = Describe("Data RPC", func() {
	var (
		ln      *fasthttputil.InmemoryListener
		srv     *peer.Server
		cli     *peer.Client
		backend *fakeBackend
	)

	const localNode = int32(3)
	const otherNode = int32(9)
	server := meta.ServerIdentifier{IP: "peer", Port: 1, ID: localNode}

	BeforeEach(func() {
		ln = fasthttputil.NewInmemoryListener()
		backend = newFakeBackend()
		srv = peer.NewServer(localNode, backend, 8)
		go func() { _ = srv.Serve(ln) }()
		cli = peer.NewClientWithDial(func(string) (net.Conn, error) { return ln.Dial() })
	})

	AfterEach(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})

	It("refuses a request naming a different node", func() {
		_, _, err := cli.ReadBlock(context.Background(), server, 42, otherNode, 0, make([]byte, 8))
		Expect(err).To(HaveOccurred())
	})

	It("serves append-write then block reads round trip", func() {
		err := cli.AppendWrite(context.Background(), server, 42, localNode, []byte("0123456789abcdef"), 0)
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 8)
		n, eof, err := cli.ReadBlock(context.Background(), server, 42, localNode, 0, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(8))
		Expect(eof).To(BeFalse())
		Expect(string(buf)).To(Equal("01234567"))

		n, eof, err = cli.ReadBlock(context.Background(), server, 42, localNode, 1, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(8))
		Expect(eof).To(BeTrue())
		Expect(string(buf)).To(Equal("89abcdef"))
	})
})
