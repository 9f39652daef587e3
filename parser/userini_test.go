package parser

import (
	"os"
	"path/filepath"
	"testing"
)

const userINI = "[Constants]\n" +
	"$\\mods\\character\\aki\\merged.ini\\swapvar = 2\n" +
	"$\\mods\\character\\rem\\merged.ini\\swapvar = 0\n" +
	"$\\mods\\weapons\\blade.ini\\swapvar = 1\n" +
	"$\\mods\\character\\aki\\merged.ini\\opacity = 0.75\n" +
	"$ambient = 5\n"

func writeUserINI(t *testing.T) *UserConstants {
	t.Helper()
	p := filepath.Join(t.TempDir(), "d3dx_user.ini")
	if err := os.WriteFile(p, []byte(userINI), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	u, err := LoadUserConstants(p)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return u
}

func TestLoadUserConstantsMissingFile(t *testing.T) {
	t.Parallel()

	u, err := LoadUserConstants(filepath.Join(t.TempDir(), "d3dx_user.ini"))
	if err != nil {
		t.Fatalf("a missing file is not an error, got: %v", err)
	}
	if _, ok := u.Lookup("mods/a.ini", "swapvar"); ok {
		t.Error("expected no values from a missing file")
	}
}

func TestUserConstantsLookupBySuffix(t *testing.T) {
	t.Parallel()

	u := writeUserINI(t)

	v, ok := u.Lookup(`C:\Games\GIMI\Mods\character\aki\merged.ini`, "swapvar")
	if !ok || v != "2" {
		t.Errorf("expected suffix match to resolve 2, got %q (%v)", v, ok)
	}

	// Matching never bleeds across a path component boundary: oldmods must
	// not satisfy a path stored under mods, and merged.ini alone names two
	// entries, so nothing else can resolve this lookup either.
	if _, ok := u.Lookup("/games/gimi/oldmods/character/aki/merged.ini", "swapvar"); ok {
		t.Error("expected oldmods not to match a path stored under mods")
	}
}

func TestUserConstantsLookupByBaseName(t *testing.T) {
	t.Parallel()

	u := writeUserINI(t)

	// blade.ini names exactly one stored entry for swapvar.
	v, ok := u.Lookup("/elsewhere/blade.ini", "swapvar")
	if !ok || v != "1" {
		t.Errorf("expected unique base name fallback to resolve 1, got %q (%v)", v, ok)
	}

	// merged.ini names two of them, so the lookup refuses to guess.
	if _, ok := u.Lookup("/elsewhere/merged.ini", "swapvar"); ok {
		t.Error("expected ambiguous base name lookup to fail")
	}
}

func TestUserConstantsBareVariable(t *testing.T) {
	t.Parallel()

	u := writeUserINI(t)

	v, ok := u.Lookup("/any/path/at/all.ini", "ambient")
	if !ok || v != "5" {
		t.Errorf("expected path-less variable to resolve everywhere, got %q (%v)", v, ok)
	}
}
