package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}
}

func loadedRels(t *testing.T, root string, fd *FolderDocuments) []string {
	t.Helper()
	out := make([]string, 0, len(fd.Documents))
	for _, d := range fd.Documents {
		rel, err := filepath.Rel(root, d.Path())
		if err != nil {
			t.Fatalf("failed to relativize %s: %v", d.Path(), err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestLoadFolderOrdering(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.ini":                 "[B]\nx = 1\n",
		"a.ini":                 "[A]\nx = 1\n",
		"DISABLED c.ini":        "[C]\nx = 1\n",
		"sub/inner.ini":         "[Inner]\nx = 1\n",
		"DISABLED nested/d.ini": "[D]\nx = 1\n",
		"sub/deep/far.ini":      "[Far]\nx = 1\n",
		"node_modules/skip.ini": "[Skip]\nx = 1\n",
		"desktop.ini":           "[.ShellClassInfo]\n",
		"d3dx_user.ini":         "[Constants]\n",
		"notes.txt":             "not an ini\n",
	})

	l := NewLoader(1, []string{"node_modules"})
	fd, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(fd.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", fd.Failures)
	}

	want := []string{"a.ini", "b.ini", "DISABLED c.ini", "sub/inner.ini", "DISABLED nested/d.ini"}
	got := loadedRels(t, root, fd)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected load order %v, got %v", want, got)
		}
	}
}

func TestLoadFolderCollectsFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"good.ini": "[A]\nx = 1\n",
		"bad.ini":  "[unterminated\n",
	})

	l := NewLoader(4, nil)
	fd, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("a malformed file must not fail the folder: %v", err)
	}
	if len(fd.Documents) != 1 {
		t.Fatalf("expected the good file to parse, got %d documents", len(fd.Documents))
	}
	if len(fd.Failures) != 1 {
		t.Fatalf("expected one failure, got %v", fd.Failures)
	}
	f := fd.Failures[0]
	if !strings.HasSuffix(f.Path, "bad.ini") || f.Line != 1 {
		t.Errorf("unexpected failure detail: %+v", f)
	}
}

func TestLoadFolderCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.ini": "[A]\nx = 1\n"})

	l := NewLoader(4, nil)
	first, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	again, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if first != again {
		t.Error("expected an unchanged folder to be served from cache")
	}

	// A content change moves the newest mtime, which invalidates the entry.
	p := filepath.Join(root, "a.ini")
	if err := os.WriteFile(p, []byte("[A]\nx = 2\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite fixture: %v", err)
	}
	bumped := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(p, bumped, bumped); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	changed, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if changed == again {
		t.Fatal("expected a changed folder to be reparsed")
	}
	if v, _ := changed.Documents[0].Get("A", "x"); v != "2" {
		t.Errorf("expected reparsed content, got x = %q", v)
	}

	cached, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cached != changed {
		t.Error("expected the reparsed result to be cached in turn")
	}

	l.Invalidate(root)
	fresh, err := l.LoadFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if fresh == changed {
		t.Error("expected Invalidate to force a reparse")
	}
}

func TestLoadFolderMissingRoot(t *testing.T) {
	t.Parallel()

	l := NewLoader(4, nil)
	if _, err := l.LoadFolder(context.Background(), filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Error("expected an unreadable root to fail the load")
	}
}

func TestLoadFolderCancellation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.ini": "[A]\nx = 1\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLoader(4, nil)
	if _, err := l.LoadFolder(ctx, root); !strings.Contains(err.Error(), context.Canceled.Error()) {
		t.Errorf("expected a cancelled context to abort the load, got %v", err)
	}
}
