package hk_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cuckoofs/cuckoo/hk"
)

var _ = Describe("LogCleaner", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "cuckoo-logs-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	writeLog := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte("x"), 0o644)).To(Succeed())
		mtime := time.Now().Add(-age)
		Expect(os.Chtimes(path, mtime, mtime)).To(Succeed())
		return path
	}

	It("removes files older than the retention horizon", func() {
		old := writeLog("cuckoo.log.1", 48*time.Hour)
		fresh := writeLog("cuckoo.log.2", time.Minute)

		c := hk.NewLogCleaner(dir, 24, 50)
		c.Sweep()

		_, err := os.Stat(old)
		Expect(os.IsNotExist(err)).To(BeTrue())
		_, err = os.Stat(fresh)
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps the file a current-log symlink points at regardless of age", func() {
		target := writeLog("cuckoo.log.1", 48*time.Hour)
		Expect(os.Symlink(target, filepath.Join(dir, "cuckoo.INFO"))).To(Succeed())

		c := hk.NewLogCleaner(dir, 24, 50)
		c.Sweep()

		_, err := os.Stat(target)
		Expect(err).NotTo(HaveOccurred())
	})

	It("never removes the symlink pointer itself", func() {
		target := writeLog("cuckoo.log.1", time.Minute)
		link := filepath.Join(dir, "cuckoo.INFO")
		Expect(os.Symlink(target, link)).To(Succeed())

		c := hk.NewLogCleaner(dir, 24, 50)
		c.Sweep()

		fi, err := os.Lstat(link)
		Expect(err).NotTo(HaveOccurred())
		Expect(fi.Mode() & os.ModeSymlink).NotTo(BeZero())
	})

	It("trims surviving files down to the reserved count, oldest first", func() {
		var paths []string
		for i := 0; i < 5; i++ {
			paths = append(paths, writeLog("cuckoo.seg."+string(rune('a'+i)), time.Duration(i)*time.Minute))
		}

		c := hk.NewLogCleaner(dir, 24*365, 2)
		c.Sweep()

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		// the two newest (smallest index, smallest age) must survive
		for _, keep := range paths[:2] {
			_, err := os.Stat(keep)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("ignores files that don't carry the cuckoo prefix", func() {
		other := filepath.Join(dir, "other.log")
		Expect(os.WriteFile(other, []byte("x"), 0o644)).To(Succeed())
		old := time.Now().Add(-48 * time.Hour)
		Expect(os.Chtimes(other, old, old)).To(Succeed())

		c := hk.NewLogCleaner(dir, 24, 50)
		c.Sweep()

		_, err := os.Stat(other)
		Expect(err).NotTo(HaveOccurred())
	})

	It("registers with a Housekeeper and sweeps on that schedule", func() {
		old := writeLog("cuckoo.log.1", 48*time.Hour)

		h := hk.New()
		defer h.Stop()
		c := hk.NewLogCleaner(dir, 24, 50)
		c.Register(h, "logcleaner")

		Eventually(func() bool {
			_, err := os.Stat(old)
			return os.IsNotExist(err)
		}, "200ms").Should(BeTrue())
	})
})
