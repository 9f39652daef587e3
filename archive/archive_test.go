package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"emperror.dev/errors"
	. "github.com/franela/goblin"
	"github.com/klauspost/pgzip"

	"github.com/reynalivan/emm-core/config"
)

// seedBackups installs a global configuration with the given backup
// settings so Create can pick them up.
func seedBackups(level string, limit int) error {
	c, err := config.NewAtPath("config.yml")
	if err != nil {
		return err
	}
	c.System.Backups.CompressionLevel = level
	c.System.Backups.WriteLimit = limit
	config.Set(c)
	return nil
}

func writeTree(root string, files map[string]string) error {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestArchiveCreate(t *testing.T) {
	g := Goblin(t)

	g.Describe("Archive.Create", func() {
		g.It("round trips a directory tree", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			err := writeTree(src, map[string]string{
				"readme.txt":             "model swaps for the summer event\n",
				"mods/alpha/mod.ini":     "[Constants]\nglobal $active = 1\n",
				"mods/alpha/texture.dds": "DDS |fake pixel payload",
			})
			if err != nil {
				g.Fail(err)
			}
			if err := os.MkdirAll(filepath.Join(src, "mods", "empty"), 0o755); err != nil {
				g.Fail(err)
			}

			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			if err := (&Archive{BaseDirectory: src}).Create(context.Background(), dst); err != nil {
				g.Fail(err)
			}

			ext, err := Identify(context.Background(), dst)
			if err != nil {
				g.Fail(err)
			}
			g.Assert(ext).Equal(".tar.gz")

			out := t.TempDir()
			if err := Extract(context.Background(), dst, out); err != nil {
				g.Fail(err)
			}
			for _, rel := range []string{"readme.txt", "mods/alpha/mod.ini", "mods/alpha/texture.dds"} {
				want, err := os.ReadFile(filepath.Join(src, filepath.FromSlash(rel)))
				if err != nil {
					g.Fail(err)
				}
				got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
				if err != nil {
					g.Fail(err)
				}
				g.Assert(string(got)).Equal(string(want))
			}
			info, err := os.Stat(filepath.Join(out, "mods", "empty"))
			if err != nil {
				g.Fail(err)
			}
			g.Assert(info.IsDir()).IsTrue()
		})

		g.It("leaves ignored content out of the archive", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			err := writeTree(src, map[string]string{
				"keep.ini":      "[TextureOverride]\n",
				"skip.bak":      "stale editor backup",
				"cache/tmp.txt": "scratch data",
			})
			if err != nil {
				g.Fail(err)
			}

			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			a := &Archive{BaseDirectory: src, Ignore: "*.bak\ncache"}
			if err := a.Create(context.Background(), dst); err != nil {
				g.Fail(err)
			}

			names, err := List(context.Background(), dst)
			if err != nil {
				g.Fail(err)
			}
			has := func(name string) bool {
				for _, n := range names {
					if strings.TrimSuffix(n, "/") == name {
						return true
					}
				}
				return false
			}
			g.Assert(has("keep.ini")).IsTrue()
			g.Assert(has("skip.bak")).IsFalse()
			g.Assert(has("cache")).IsFalse()
			g.Assert(has("cache/tmp.txt")).IsFalse()
		})

		g.It("honors the configured write limit", func() {
			if err := seedBackups("best_compression", 4); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			payload := strings.Repeat("model data ", 4096)
			if err := writeTree(src, map[string]string{"data.bin": payload}); err != nil {
				g.Fail(err)
			}

			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			if err := (&Archive{BaseDirectory: src}).Create(context.Background(), dst); err != nil {
				g.Fail(err)
			}

			out := t.TempDir()
			if err := Extract(context.Background(), dst, out); err != nil {
				g.Fail(err)
			}
			got, err := os.ReadFile(filepath.Join(out, "data.bin"))
			if err != nil {
				g.Fail(err)
			}
			g.Assert(string(got)).Equal(payload)
		})

		g.It("removes the partial archive when the walk fails", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			a := &Archive{BaseDirectory: filepath.Join(t.TempDir(), "missing")}

			g.Assert(a.Create(context.Background(), dst) != nil).IsTrue()
			_, err := os.Stat(dst)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})

		g.It("stops when the context is canceled", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			if err := writeTree(src, map[string]string{"mod.ini": "[Constants]\n"}); err != nil {
				g.Fail(err)
			}
			dst := filepath.Join(t.TempDir(), "backup.tar.gz")

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := (&Archive{BaseDirectory: src}).Create(ctx, dst)
			g.Assert(errors.Is(err, context.Canceled)).IsTrue()
			_, serr := os.Stat(dst)
			g.Assert(os.IsNotExist(serr)).IsTrue()
		})

		g.It("maps configured compression names onto pgzip levels", func() {
			g.Assert(compressionLevel("none")).Equal(pgzip.NoCompression)
			g.Assert(compressionLevel("best_speed")).Equal(pgzip.BestSpeed)
			g.Assert(compressionLevel("best_compression")).Equal(pgzip.BestCompression)
			g.Assert(compressionLevel("something else")).Equal(pgzip.BestSpeed)
		})
	})
}

func TestArchiveExtract(t *testing.T) {
	g := Goblin(t)

	g.Describe("Extract", func() {
		g.It("rejects files no archive format recognizes", func() {
			p := filepath.Join(t.TempDir(), "notes.txt")
			if err := os.WriteFile(p, []byte("shopping list, not an archive\n"), 0o644); err != nil {
				g.Fail(err)
			}

			_, err := Identify(context.Background(), p)
			g.Assert(errors.Is(err, ErrUnsupportedFormat)).IsTrue()

			err = Extract(context.Background(), p, t.TempDir())
			g.Assert(errors.Is(err, ErrUnsupportedFormat)).IsTrue()
			g.Assert(strings.Contains(err.Error(), "notes.txt")).IsTrue()
		})

		g.It("flags archives that stop short", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			if err := writeTree(src, map[string]string{"data.bin": strings.Repeat("mod data ", 1024)}); err != nil {
				g.Fail(err)
			}
			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			if err := (&Archive{BaseDirectory: src}).Create(context.Background(), dst); err != nil {
				g.Fail(err)
			}
			raw, err := os.ReadFile(dst)
			if err != nil {
				g.Fail(err)
			}

			cut := filepath.Join(t.TempDir(), "cut.tar.gz")
			if err := os.WriteFile(cut, raw[:len(raw)/2], 0o644); err != nil {
				g.Fail(err)
			}

			out := filepath.Join(t.TempDir(), "out")
			err = Extract(context.Background(), cut, out)
			g.Assert(errors.Is(err, ErrCorruptArchive)).IsTrue()
			// The sizing pass fails before anything touches the destination.
			_, serr := os.Stat(out)
			g.Assert(os.IsNotExist(serr)).IsTrue()
		})

		g.It("stops when the context is canceled", func() {
			if err := seedBackups("best_speed", 0); err != nil {
				g.Fail(err)
			}
			src := t.TempDir()
			if err := writeTree(src, map[string]string{"mod.ini": "[Constants]\n"}); err != nil {
				g.Fail(err)
			}
			dst := filepath.Join(t.TempDir(), "backup.tar.gz")
			if err := (&Archive{BaseDirectory: src}).Create(context.Background(), dst); err != nil {
				g.Fail(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			out := filepath.Join(t.TempDir(), "out")
			err := Extract(ctx, dst, out)
			g.Assert(errors.Is(err, context.Canceled)).IsTrue()
			_, serr := os.Stat(out)
			g.Assert(os.IsNotExist(serr)).IsTrue()
		})

		g.It("confines entry paths to the destination", func() {
			dst := t.TempDir()

			target, err := confine(dst, "mods/alpha/mod.ini")
			if err != nil {
				g.Fail(err)
			}
			g.Assert(target).Equal(filepath.Join(dst, "mods", "alpha", "mod.ini"))

			_, err = confine(dst, "../escape.ini")
			g.Assert(err != nil).IsTrue()

			_, err = confine(dst, "mods/../../escape.ini")
			g.Assert(err != nil).IsTrue()
		})
	})
}
