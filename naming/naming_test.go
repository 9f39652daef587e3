package naming

import "testing"

func TestIsDisabled(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"DISABLED Ayaka":   true,
		"disabled ayaka":   true,
		"disabled_Ayaka":   true,
		"DISABLED__Ayaka":  true,
		"Disabled  Ayaka":  true,
		"Ayaka":            false,
		"DisabledAyaka":    false,
		"My DISABLED Mod":  false,
		"DISABLED":         false,
		"undisabled Ayaka": false,
	}
	for name, want := range cases {
		if got := IsDisabled(name); got != want {
			t.Errorf("IsDisabled(%q): expected %v, got %v", name, want, got)
		}
	}
}

func TestDisableNormalizesVariants(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Ayaka":          "DISABLED Ayaka",
		"disabled_Ayaka": "DISABLED Ayaka",
		"DISABLED Ayaka": "DISABLED Ayaka",
		"disabled ayaka": "DISABLED ayaka",
	}
	for name, want := range cases {
		if got := Disable(name); got != want {
			t.Errorf("Disable(%q): expected %q, got %q", name, want, got)
		}
	}
}

func TestEnable(t *testing.T) {
	t.Parallel()

	if got := Enable("DISABLED Ayaka"); got != "Ayaka" {
		t.Errorf("expected Ayaka, got %q", got)
	}
	if got := Enable("Ayaka"); got != "Ayaka" {
		t.Errorf("expected an enabled name to pass through, got %q", got)
	}
}

func TestPinRoundTrip(t *testing.T) {
	t.Parallel()

	if got := Pin("Ayaka"); got != "Ayaka_pin" {
		t.Errorf("expected Ayaka_pin, got %q", got)
	}
	if got := Pin("Ayaka_pin"); got != "Ayaka_pin" {
		t.Errorf("pinning twice must not stack suffixes, got %q", got)
	}
	if got := Unpin("Ayaka_pin"); got != "Ayaka" {
		t.Errorf("expected Ayaka, got %q", got)
	}
	if got := Unpin("Ayaka"); got != "Ayaka" {
		t.Errorf("expected an unpinned name to pass through, got %q", got)
	}
	if !IsPinned("Ayaka_PIN") {
		t.Error("pin detection is case insensitive")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"DISABLED Ayaka_pin": "Ayaka",
		"disabled_Ayaka":     "Ayaka",
		"Ayaka_pin":          "Ayaka",
		"Ayaka":              "Ayaka",
	}
	for name, want := range cases {
		if got := DisplayName(name); got != want {
			t.Errorf("DisplayName(%q): expected %q, got %q", name, want, got)
		}
	}
}

func TestIsThumbnailName(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"thumb.png":      true,
		"Thumb.JPG":      true,
		"preview.webp":   true,
		"preview_01.png": true,
		"thumb.txt":      false,
		"screenshot.png": false,
		"thumb":          false,
	}
	for name, want := range cases {
		if got := IsThumbnailName(name); got != want {
			t.Errorf("IsThumbnailName(%q): expected %v, got %v", name, want, got)
		}
	}
}
