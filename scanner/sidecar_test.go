package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPropertiesRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := &ObjectProperties{
		ActualName: "Ayaka",
		Type:       "Character",
		Tags:       []string{"cryo", "sword"},
		Rarity:     "5",
		Element:    "Cryo",
		Gender:     "Female",
	}
	if err := SaveProperties(dir, in); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	out, err := LoadProperties(dir)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if out == nil || out.ActualName != "Ayaka" || out.Element != "Cryo" || len(out.Tags) != 2 {
		t.Errorf("unexpected round trip result: %+v", out)
	}
}

func TestLoadPropertiesAbsent(t *testing.T) {
	t.Parallel()

	p, err := LoadProperties(t.TempDir())
	if err != nil {
		t.Fatalf("a folder without a sidecar is not an error, got: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil properties, got %+v", p)
	}
}

func TestLoadPropertiesMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "properties.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := LoadProperties(dir); err == nil {
		t.Error("expected a malformed sidecar to fail the load")
	}
}

func TestInfoRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := &ModInfo{ActualName: "Summer Outfit", Author: "someone", IsSafe: true, LastStatusActive: true}
	if err := SaveInfo(dir, in); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	out, err := LoadInfo(dir)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if out == nil || out.Author != "someone" || !out.IsSafe || !out.LastStatusActive {
		t.Errorf("unexpected round trip result: %+v", out)
	}
}

func TestHydrateMod(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkdirs(t, root, "Summer Outfit")
	touch(t, root, "Summer Outfit/merged.ini", []byte("[A]\n"))
	touch(t, root, "Summer Outfit/info.json", []byte(`{"author":"someone","tags":["summer"]}`))
	touch(t, root, "Summer Outfit/thumb.png", pngHeader)
	touch(t, root, "Summer Outfit/preview_02.png", pngHeader)
	touch(t, root, "Summer Outfit/preview_01.png", pngHeader)
	// An image extension on non-image bytes is not a preview.
	touch(t, root, "Summer Outfit/preview_03.png", []byte("plain text"))
	touch(t, root, "Summer Outfit/screenshot.png", pngHeader)

	res, err := New(nil).Scan(context.Background(), root, ModeMods)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	e := find(res, "Summer Outfit")
	if e == nil || e.Hydrated {
		t.Fatalf("expected a skeleton entry, got %+v", e)
	}

	if err := New(nil).Hydrate(e); err != nil {
		t.Fatalf("unexpected hydrate error: %v", err)
	}
	if !e.Hydrated {
		t.Error("expected the entry to be marked hydrated")
	}
	if e.Info == nil || e.Info.Author != "someone" {
		t.Errorf("expected info sidecar to be loaded, got %+v", e.Info)
	}
	if filepath.Base(e.Thumbnail) != "thumb.png" {
		t.Errorf("expected thumb.png to win, got %q", e.Thumbnail)
	}
	if len(e.Previews) != 2 || filepath.Base(e.Previews[0]) != "preview_01.png" {
		t.Errorf("unexpected previews: %v", e.Previews)
	}
}

func TestHydrateObjectFallsBackToPreview(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkdirs(t, root, "Ayaka")
	touch(t, root, "Ayaka/properties.json", []byte(`{"actual_name":"Ayaka"}`))
	touch(t, root, "Ayaka/preview.png", pngHeader)

	res, err := New(nil).Scan(context.Background(), root, ModeObjects)
	if err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	e := find(res, "Ayaka")
	if err := New(nil).Hydrate(e); err != nil {
		t.Fatalf("unexpected hydrate error: %v", err)
	}
	if e.Properties == nil || e.Properties.ActualName != "Ayaka" {
		t.Errorf("expected properties sidecar to be loaded, got %+v", e.Properties)
	}
	if filepath.Base(e.Thumbnail) != "preview.png" {
		t.Errorf("expected the preview to serve as thumbnail, got %q", e.Thumbnail)
	}
}
