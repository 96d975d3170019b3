// Package peer implements spec §6's Data RPC: block reads, whole small-file
// reads, append-writes, truncation, and close-commit between nodes, carried
// over github.com/valyala/fasthttp the way the teacher's own high-throughput
// transport choices favor a low-allocation HTTP stack over generated RPC
// stubs. Every request names (inodeId, nodeId); a server refuses one naming
// a node other than itself.
package peer

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/cuckoofs/cuckoo/meta"
)

const (
	hdrInode      = "X-Cuckoo-Inode"
	hdrNode       = "X-Cuckoo-Node"
	hdrBlockIndex = "X-Cuckoo-Block"
	hdrOffset     = "X-Cuckoo-Offset"
	hdrSize       = "X-Cuckoo-Size"
	hdrMtime      = "X-Cuckoo-Mtime"
	hdrEOF        = "X-Cuckoo-Eof"
)

var errNodeMismatch = errors.New("peer: request named a node other than this one")

func endpointURL(server meta.ServerIdentifier, path string) string {
	return "http://" + server.IP + ":" + strconv.Itoa(int(server.Port)) + path
}

func setIdentity(req *fasthttp.Request, inodeID uint64, nodeID int32) {
	req.Header.Set(hdrInode, strconv.FormatUint(inodeID, 10))
	req.Header.Set(hdrNode, strconv.FormatInt(int64(nodeID), 10))
}

func parseU64(b []byte) (uint64, error) { return strconv.ParseUint(string(b), 10, 64) }
func parseI64(b []byte) (int64, error)  { return strconv.ParseInt(string(b), 10, 64) }
func parseI32(b []byte) (int32, error) {
	n, err := strconv.ParseInt(string(b), 10, 32)
	return int32(n), err
}
func parseInt(b []byte) (int, error) {
	n, err := strconv.Atoi(string(b))
	return n, err
}

func itoa(n int) string    { return strconv.Itoa(n) }
func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

// statusErr turns a non-200 response into an error the store package's
// routing logic can treat like any other transport failure.
func statusErr(status int) error {
	return errors.Errorf("peer: remote returned status %d", status)
}
