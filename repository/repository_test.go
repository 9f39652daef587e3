package repository

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/franela/goblin"
)

const sampleDB = `{
  "objects": [
    {"identity": "ayaka", "name": "Ayaka", "rarity": "5", "element": "Cryo", "tags": ["cryo", "sword"]},
    {"name": "Hu Tao", "rarity": "5", "element": "Pyro"},
    {"identity": "paimon", "name": "Paimon", "custom_field": "kept", "nested": {"source": "community"}}
  ]
}`

func writeDB(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "database_object.json")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return p
}

func TestRepositoryLoad(t *testing.T) {
	g := Goblin(t)

	g.Describe("Load", func() {
		g.It("loads records in file order", func() {
			r, err := Load(writeDB(t, sampleDB))
			if err != nil {
				g.Fail(err)
			}
			g.Assert(r.Len()).Equal(3)
			all := r.All()
			g.Assert(all[0].Identity).Equal("ayaka")
			g.Assert(all[2].Identity).Equal("paimon")
		})

		g.It("derives a missing identity from the name", func() {
			r, err := Load(writeDB(t, sampleDB))
			if err != nil {
				g.Fail(err)
			}
			o, ok := r.Find("hu_tao")
			g.Assert(ok).IsTrue()
			g.Assert(o.Name).Equal("Hu Tao")
		})

		g.It("keeps unknown record keys as extra metadata", func() {
			r, err := Load(writeDB(t, sampleDB))
			if err != nil {
				g.Fail(err)
			}
			o, _ := r.Find("paimon")
			g.Assert(o.Extra != nil).IsTrue()
			g.Assert(o.Extra.Path("custom_field").Data().(string)).Equal("kept")
			g.Assert(o.Extra.Exists("name")).IsFalse()
		})

		g.It("rejects duplicate identity keys", func() {
			_, err := Load(writeDB(t, `{"objects": [{"identity": "a", "name": "A"}, {"identity": "a", "name": "A2"}]}`))
			g.Assert(IsCorruptDatabase(err)).IsTrue()
		})

		g.It("rejects duplicates that only collide after derivation", func() {
			_, err := Load(writeDB(t, `{"objects": [{"name": "Hu Tao"}, {"identity": "hu_tao", "name": "Other"}]}`))
			g.Assert(IsCorruptDatabase(err)).IsTrue()
		})

		g.It("rejects records with neither name nor identity", func() {
			_, err := Load(writeDB(t, `{"objects": [{"rarity": "5"}]}`))
			g.Assert(IsCorruptDatabase(err)).IsTrue()
		})

		g.It("rejects files that are not json", func() {
			_, err := Load(writeDB(t, `{"objects": [{]`))
			g.Assert(IsCorruptDatabase(err)).IsTrue()
		})

		g.It("treats a file without an objects array as empty", func() {
			r, err := Load(writeDB(t, `{"version": 3}`))
			if err != nil {
				g.Fail(err)
			}
			g.Assert(r.Len()).Equal(0)
		})
	})
}

func TestRepositoryCRUD(t *testing.T) {
	g := Goblin(t)

	g.Describe("Upsert, Find and Remove", func() {
		g.It("derives the identity key on insert", func() {
			r := New(filepath.Join(t.TempDir(), "db.json"))
			r.Upsert(ModObject{Name: "Raiden (Shogun)"})
			_, ok := r.Find("raiden_shogun")
			g.Assert(ok).IsTrue()
		})

		g.It("replaces in place and keeps the stored order", func() {
			r := New(filepath.Join(t.TempDir(), "db.json"))
			r.Upsert(ModObject{Identity: "a", Name: "A"})
			r.Upsert(ModObject{Identity: "b", Name: "B"})
			r.Upsert(ModObject{Identity: "a", Name: "A updated"})

			all := r.All()
			g.Assert(len(all)).Equal(2)
			g.Assert(all[0].Name).Equal("A updated")
			g.Assert(all[1].Name).Equal("B")
		})

		g.It("reindexes after a removal", func() {
			r := New(filepath.Join(t.TempDir(), "db.json"))
			r.Upsert(ModObject{Identity: "a", Name: "A"})
			r.Upsert(ModObject{Identity: "b", Name: "B"})
			r.Upsert(ModObject{Identity: "c", Name: "C"})

			g.Assert(r.Remove("b")).IsTrue()
			g.Assert(r.Remove("b")).IsFalse()
			o, ok := r.Find("c")
			g.Assert(ok).IsTrue()
			g.Assert(o.Name).Equal("C")
			g.Assert(r.Len()).Equal(2)
		})

		g.It("never mutates a snapshot taken before a write", func() {
			r := New(filepath.Join(t.TempDir(), "db.json"))
			r.Upsert(ModObject{Identity: "a", Name: "A", Tags: []string{"old"}})

			before := r.All()
			r.Upsert(ModObject{Identity: "a", Name: "A updated", Tags: []string{"new"}})

			g.Assert(before[0].Name).Equal("A")
			g.Assert(before[0].Tags[0]).Equal("old")
		})
	})
}

func TestRepositoryFlush(t *testing.T) {
	g := Goblin(t)

	g.Describe("Flush", func() {
		g.It("persists records and reloads them identically", func() {
			p := filepath.Join(t.TempDir(), "db.json")
			r := New(p)
			r.Upsert(ModObject{Name: "Ayaka", Rarity: "5", Tags: []string{"cryo"}})
			if err := r.Flush(); err != nil {
				g.Fail(err)
			}

			back, err := Load(p)
			if err != nil {
				g.Fail(err)
			}
			o, ok := back.Find("ayaka")
			g.Assert(ok).IsTrue()
			g.Assert(o.Rarity).Equal("5")
		})

		g.It("round-trips extra metadata through a flush", func() {
			p := writeDB(t, sampleDB)
			r, err := Load(p)
			if err != nil {
				g.Fail(err)
			}
			r.Upsert(ModObject{Identity: "new", Name: "New"})
			if err := r.Flush(); err != nil {
				g.Fail(err)
			}

			back, err := Load(p)
			if err != nil {
				g.Fail(err)
			}
			o, _ := back.Find("paimon")
			g.Assert(o.Extra != nil).IsTrue()
			g.Assert(o.Extra.Path("nested.source").Data().(string)).Equal("community")
		})

		g.It("keeps the previous version as the bak fallback", func() {
			p := filepath.Join(t.TempDir(), "db.json")
			r := New(p)
			r.Upsert(ModObject{Identity: "a", Name: "A"})
			if err := r.Flush(); err != nil {
				g.Fail(err)
			}
			_, err := os.Stat(p + BakSuffix)
			g.Assert(os.IsNotExist(err)).IsTrue()

			r.Upsert(ModObject{Identity: "b", Name: "B"})
			if err := r.Flush(); err != nil {
				g.Fail(err)
			}
			bak, err := Load(p + BakSuffix)
			if err != nil {
				g.Fail(err)
			}
			g.Assert(bak.Len()).Equal(1)
		})

		g.It("does nothing when nothing changed", func() {
			p := writeDB(t, sampleDB)
			r, err := Load(p)
			if err != nil {
				g.Fail(err)
			}
			if err := r.Flush(); err != nil {
				g.Fail(err)
			}
			_, err = os.Stat(p + BakSuffix)
			g.Assert(os.IsNotExist(err)).IsTrue()
		})
	})
}

func TestRepositoryOpenFallback(t *testing.T) {
	g := Goblin(t)

	g.Describe("Open", func() {
		g.It("starts empty for a database nobody wrote yet", func() {
			p := filepath.Join(t.TempDir(), "db.json")
			r := Open(p)
			g.Assert(r.Len()).Equal(0)
			g.Assert(r.Path()).Equal(p)
		})

		g.It("falls back to the bak snapshot when the primary is corrupt", func() {
			dir := t.TempDir()
			p := filepath.Join(dir, "db.json")
			if err := os.WriteFile(p, []byte(`{"objects": [{"identity": "a"`), 0o644); err != nil {
				g.Fail(err)
			}
			if err := os.WriteFile(p+BakSuffix, []byte(`{"objects": [{"identity": "a", "name": "A"}]}`), 0o644); err != nil {
				g.Fail(err)
			}

			r := Open(p)
			g.Assert(r.Len()).Equal(1)
			g.Assert(r.Path()).Equal(p)
			g.Assert(r.Dirty()).IsTrue()
		})

		g.It("starts empty when both copies are unusable", func() {
			dir := t.TempDir()
			p := filepath.Join(dir, "db.json")
			if err := os.WriteFile(p, []byte("junk"), 0o644); err != nil {
				g.Fail(err)
			}
			r := Open(p)
			g.Assert(r.Len()).Equal(0)
		})
	})
}

func TestIdentityKey(t *testing.T) {
	cases := map[string]string{
		"Hu Tao":          "hu_tao",
		"Raiden (Shogun)": "raiden_shogun",
		"Yae-Miko":        "yae_miko",
		"KAEDEHARA":       "kaedehara",
		"Traveler!!":      "traveler",
		"  spaced  out  ": "spaced_out",
	}
	for in, want := range cases {
		if got := IdentityKey(in); got != want {
			t.Errorf("IdentityKey(%q): expected %q, got %q", in, want, got)
		}
	}
}
