package thumbnails

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/franela/goblin"

	"github.com/reynalivan/emm-core/config"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func testCache(t *testing.T) *Cache {
	t.Helper()
	return New(config.ThumbnailConfiguration{
		Directory:     t.TempDir(),
		MemoryEntries: 512,
	})
}

func writeImage(t *testing.T, dir, name string, extra byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, append(append([]byte(nil), pngHeader...), extra), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResolve(t *testing.T) {
	g := Goblin(t)

	g.Describe("Cache#Resolve", func() {
		g.It("installs a copy of the source image", func() {
			c := testCache(t)
			src := writeImage(t, t.TempDir(), "thumb.png", 1)

			p, err := c.Resolve("lib:Ayaka", src)
			g.Assert(err).IsNil()
			g.Assert(filepath.Dir(p)).Equal(c.Dir())
			g.Assert(filepath.Ext(p)).Equal(".png")

			b, err := os.ReadFile(p)
			g.Assert(err).IsNil()
			g.Assert(b[len(b)-1]).Equal(byte(1))
		})

		g.It("keeps the cached path stable when the source moves", func() {
			c := testCache(t)
			first := writeImage(t, t.TempDir(), "thumb.png", 2)
			second := writeImage(t, t.TempDir(), "thumb.png", 2)

			p1, err := c.Resolve("lib:Raiden", first)
			g.Assert(err).IsNil()
			p2, err := c.Resolve("lib:Raiden", second)
			g.Assert(err).IsNil()
			g.Assert(p2).Equal(p1)
		})

		g.It("refreshes the copy when the source is newer", func() {
			c := testCache(t)
			dir := t.TempDir()
			src := writeImage(t, dir, "thumb.png", 3)

			p, err := c.Resolve("lib:Nahida", src)
			g.Assert(err).IsNil()

			src = writeImage(t, dir, "thumb.png", 4)
			future := time.Now().Add(time.Hour)
			g.Assert(os.Chtimes(src, future, future)).IsNil()

			p2, err := c.Resolve("lib:Nahida", src)
			g.Assert(err).IsNil()
			g.Assert(p2).Equal(p)

			b, err := os.ReadFile(p2)
			g.Assert(err).IsNil()
			g.Assert(b[len(b)-1]).Equal(byte(4))
		})

		g.It("replaces the old variant when the extension changes", func() {
			c := testCache(t)
			dir := t.TempDir()

			png := writeImage(t, dir, "thumb.png", 5)
			p1, err := c.Resolve("lib:Diluc", png)
			g.Assert(err).IsNil()

			webp := writeImage(t, dir, "thumb.webp", 6)
			p2, err := c.Resolve("lib:Diluc", webp)
			g.Assert(err).IsNil()
			g.Assert(filepath.Ext(p2)).Equal(".webp")

			_, err = os.Stat(p1)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})

		g.It("fails for a missing source", func() {
			c := testCache(t)
			_, err := c.Resolve("lib:Gone", filepath.Join(t.TempDir(), "missing.png"))
			g.Assert(err).IsNotNil()
		})
	})

	g.Describe("Cache#Invalidate", func() {
		g.It("removes the cached copy", func() {
			c := testCache(t)
			src := writeImage(t, t.TempDir(), "thumb.png", 7)

			p, err := c.Resolve("lib:Bennett", src)
			g.Assert(err).IsNil()

			c.Invalidate("lib:Bennett")
			_, err = os.Stat(p)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})
	})
}

func TestSweep(t *testing.T) {
	g := Goblin(t)

	g.Describe("Cache#Sweep", func() {
		g.It("removes entries older than the age limit", func() {
			c := testCache(t)
			srcDir := t.TempDir()

			old, err := c.Resolve("lib:Old", writeImage(t, srcDir, "old.png", 8))
			g.Assert(err).IsNil()
			fresh, err := c.Resolve("lib:Fresh", writeImage(t, srcDir, "fresh.png", 9))
			g.Assert(err).IsNil()

			stale := time.Now().Add(-60 * 24 * time.Hour)
			g.Assert(os.Chtimes(old, stale, stale)).IsNil()

			removed, err := c.Sweep(DefaultMaxAge, 0)
			g.Assert(err).IsNil()
			g.Assert(removed).Equal(1)

			_, err = os.Stat(old)
			g.Assert(os.IsNotExist(err)).IsTrue()
			_, err = os.Stat(fresh)
			g.Assert(err).IsNil()
		})

		g.It("trims oldest entries first to fit the size limit", func() {
			c := testCache(t)
			srcDir := t.TempDir()

			paths := make([]string, 3)
			for i := range paths {
				name := []string{"a.png", "b.png", "c.png"}[i]
				p, err := c.Resolve("lib:"+name, writeImage(t, srcDir, name, byte(i)))
				g.Assert(err).IsNil()
				when := time.Now().Add(time.Duration(i-3) * time.Hour)
				g.Assert(os.Chtimes(p, when, when)).IsNil()
				paths[i] = p
			}

			var each int64
			if fi, err := os.Stat(paths[0]); err == nil {
				each = fi.Size()
			}

			removed, err := c.Sweep(0, each+1)
			g.Assert(err).IsNil()
			g.Assert(removed).Equal(2)

			_, err = os.Stat(paths[0])
			g.Assert(os.IsNotExist(err)).IsTrue()
			_, err = os.Stat(paths[1])
			g.Assert(os.IsNotExist(err)).IsTrue()
			_, err = os.Stat(paths[2])
			g.Assert(err).IsNil()
		})

		g.It("is a no-op for an empty cache", func() {
			c := testCache(t)
			removed, err := c.Sweep(DefaultMaxAge, DefaultMaxBytes)
			g.Assert(err).IsNil()
			g.Assert(removed).Equal(0)
		})
	})
}
