package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"
)

// cachePath returns the on-disk location for inodeID's large-file payload
// (spec §6 Cache file layout): {root}/{inodeId % totalDirectory}/{inodeId}-large.
func cachePath(root string, totalDirectory int, inodeID uint64) string {
	bucket := int(inodeID % uint64(totalDirectory))
	return filepath.Join(root, strconv.Itoa(bucket), fmt.Sprintf("%d-large", inodeID))
}

func cacheKey(inodeID uint64) string { return strconv.FormatUint(inodeID, 10) }

// presenceFilter answers "might inodeID's payload be cached locally" in
// O(1) ahead of any disk touch, refreshed on every local write/evict
// (spec's domain-stack presence-filtering requirement).
type presenceFilter struct {
	cf *cuckoofilter.Filter
}

func newPresenceFilter() *presenceFilter {
	return &presenceFilter{cf: cuckoofilter.NewDefaultCuckooFilter()}
}

func (p *presenceFilter) mightContain(inodeID uint64) bool {
	return p.cf.Lookup([]byte(cacheKey(inodeID)))
}

func (p *presenceFilter) add(inodeID uint64) {
	p.cf.InsertUnique([]byte(cacheKey(inodeID)))
}

func (p *presenceFilter) remove(inodeID uint64) {
	p.cf.Delete([]byte(cacheKey(inodeID)))
}

// cacheIndex persists per-inode cache bookkeeping (size and last access time)
// in an embedded indexed store at {root}/.index.db, so the background
// evictor can rank eviction candidates by last access without a directory
// walk.
type cacheIndex struct {
	db *buntdb.DB
}

func openCacheIndex(root string) (*cacheIndex, error) {
	db, err := buntdb.Open(filepath.Join(root, ".index.db"))
	if err != nil {
		return nil, errors.Wrap(err, "store: opening cache index")
	}
	if err := db.CreateIndex("atime", "*", buntdb.IndexJSON("atime")); err != nil && err != buntdb.ErrIndexExists {
		return nil, errors.Wrap(err, "store: creating cache index")
	}
	return &cacheIndex{db: db}, nil
}

func (c *cacheIndex) touch(inodeID uint64, size int64) error {
	now := time.Now().Unix()
	val := fmt.Sprintf(`{"size":%d,"atime":%d}`, size, now)
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(cacheKey(inodeID), val, nil)
		return err
	})
}

func (c *cacheIndex) forget(inodeID uint64) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(cacheKey(inodeID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// oldestEntries returns up to limit inode keys ordered by ascending access
// time, the evictor's candidate list.
func (c *cacheIndex) oldestEntries(limit int) ([]uint64, error) {
	var out []uint64
	err := c.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("atime", func(key, _ string) bool {
			id, convErr := strconv.ParseUint(key, 10, 64)
			if convErr == nil {
				out = append(out, id)
			}
			return len(out) < limit
		})
	})
	return out, err
}

func (c *cacheIndex) Close() error { return c.db.Close() }
