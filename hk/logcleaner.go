package hk

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"golang.org/x/sys/unix"

	"github.com/cuckoofs/cuckoo/xlog"
)

// logSweepInterval is how often LogCleaner re-scans its directory. The
// teacher's housekeeping jobs favor minute-scale intervals over per-second
// ticking; Housekeeper.Stop still interrupts a pending sweep immediately
// since it closes the run loop's stop channel rather than waiting out a
// sleep.
const logSweepInterval = 10 * time.Minute

const logFilePrefix = "cuckoo"

// LogCleaner sweeps a log directory, keeping at most reservedNum files no
// older than retentionHours. It never follows symlinks and never removes
// the file a symlink currently points at, since cuckoo.INFO/WARNING/ERROR
// point at whichever rotated file is current and share the cuckoo prefix
// with the files that are fair game for removal.
type LogCleaner struct {
	dir         string
	retention   time.Duration
	reservedNum int
}

func NewLogCleaner(dir string, retentionHours, reservedNum int) *LogCleaner {
	return &LogCleaner{
		dir:         dir,
		retention:   time.Duration(retentionHours) * time.Hour,
		reservedNum: reservedNum,
	}
}

// Register adds the cleaner to h under name, firing immediately and then
// every logSweepInterval.
func (c *LogCleaner) Register(h *Housekeeper, name string) {
	h.Reg(name, func() time.Duration {
		c.Sweep()
		return logSweepInterval
	})
}

type logFile struct {
	path  string
	mtime time.Time
}

// Sweep runs one pass of the retention policy immediately.
func (c *LogCleaner) Sweep() {
	keep, err := c.currentLogTargets()
	if err != nil {
		xlog.Warningf("hk: resolving current-log symlinks in %s: %v", c.dir, err)
		return
	}

	var candidates []logFile
	err = godirwalk.Walk(c.dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == c.dir {
				return nil
			}
			if de.IsDir() {
				return filepath.SkipDir
			}
			if !strings.HasPrefix(filepath.Base(path), logFilePrefix) {
				return nil
			}

			var st unix.Stat_t
			if err := unix.Lstat(path, &st); err != nil {
				return nil // vanished between walk and stat
			}
			if st.Mode&unix.S_IFMT == unix.S_IFLNK {
				return nil // a rotation pointer itself, never a removal candidate
			}
			if keep[path] {
				return nil // the file a rotation pointer currently targets
			}
			candidates = append(candidates, logFile{
				path:  path,
				mtime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
			})
			return nil
		},
	})
	if err != nil {
		xlog.Warningf("hk: walking log dir %s: %v", c.dir, err)
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.After(candidates[j].mtime) })

	cutoff := time.Now().Add(-c.retention)
	for i, f := range candidates {
		if i < c.reservedNum && f.mtime.After(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			xlog.Warningf("hk: removing %s: %v", f.path, err)
		}
	}
}

// currentLogTargets resolves every symlink directly inside dir to the real
// file it currently names, so the sweep can exclude that file regardless
// of how old its mtime looks.
func (c *LogCleaner) currentLogTargets() (map[string]bool, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]bool)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		resolved, err := filepath.EvalSymlinks(filepath.Join(c.dir, e.Name()))
		if err != nil {
			continue
		}
		targets[resolved] = true
	}
	return targets, nil
}
