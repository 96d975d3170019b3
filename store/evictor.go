package store

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/xlog"
)

const evictCheckInterval = time.Minute

// StartEvictor spawns the background goroutine that keeps the cache root
// under STORAGE_THRESHOLD (spec §6): once disk usage crosses the
// threshold, it evicts the oldest entries by last access, per the
// cacheIndex ordering, in a batch sized by evictionBatchSize.
func (s *CuckooStore) StartEvictor(stop <-chan struct{}) {
	go s.evictLoop(stop)
}

func (s *CuckooStore) evictLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(evictCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.maybeEvict()
		}
	}
}

func (s *CuckooStore) maybeEvict() {
	usage, err := diskUsageRatio(s.cfg.CacheRoot)
	if err != nil {
		xlog.Warningf("store: statfs %s: %v", s.cfg.CacheRoot, err)
		return
	}
	if usage < conf.StorageThreshold() {
		return
	}
	candidates, err := s.index.oldestEntries(evictionBatchSize(s.index, conf.BackgroundEvictRatio()))
	if err != nil {
		xlog.Warningf("store: listing eviction candidates: %v", err)
		return
	}
	for _, inodeID := range candidates {
		s.evictInode(inodeID)
	}
}

// evictionBatchSize picks how many entries to reclaim this pass: ratio times
// the size of a sample of up to 256 oldest entries (at least 1), or 16 when
// that sample is empty or cannot be read.
func evictionBatchSize(idx *cacheIndex, ratio float64) int {
	const sampleSize = 256
	sample, err := idx.oldestEntries(sampleSize)
	if err != nil || len(sample) == 0 {
		return 16
	}
	n := int(float64(len(sample)) * ratio)
	if n < 1 {
		n = 1
	}
	return n
}

func (s *CuckooStore) evictInode(inodeID uint64) {
	if err := os.Remove(s.cachePath(inodeID)); err != nil && !os.IsNotExist(err) {
		xlog.Warningf("store: evicting inode %d: %v", inodeID, err)
		return
	}
	s.filter.remove(inodeID)
	if err := s.index.forget(inodeID); err != nil {
		xlog.Warningf("store: unindexing inode %d: %v", inodeID, err)
	}
}

// diskUsageRatio returns used/total space for the filesystem backing root.
func diskUsageRatio(root string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bfree * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	return 1 - float64(free)/float64(total), nil
}
