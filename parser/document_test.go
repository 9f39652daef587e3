package parser

import (
	"bytes"
	"strings"
	"testing"
)

const sampleINI = "; merged mod for outfit swaps\r\n" +
	"[Constants]\r\n" +
	"global persist $swapvar = 0\r\n" +
	"\r\n" +
	"[KeySwap]\r\n" +
	"key = h\r\n" +
	"back = k\r\n" +
	"type = cycle\r\n" +
	"$swapvar = 0,1,2\r\n" +
	"\r\n" +
	"[TextureOverrideBody]\r\n" +
	"hash = abc123def\r\n" +
	"run  =  CommandListBody\r\n"

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"crlf":                sampleINI,
		"lf":                  strings.ReplaceAll(sampleINI, "\r\n", "\n"),
		"no trailing newline": strings.TrimRight(sampleINI, "\r\n"),
		"bom":                 "\xef\xbb\xbf" + sampleINI,
		"mixed endings":       "[a]\nx = 1\r\ny = 2\n",
		"odd spacing":         "[a]\n  indented = kept  \nnoequals line here\n= leading equals\n",
	}

	for name, in := range cases {
		doc, err := Parse("test.ini", []byte(in))
		if err != nil {
			t.Fatalf("%s: unexpected parse error: %v", name, err)
		}
		if out := doc.Serialize(); !bytes.Equal(out, []byte(in)) {
			t.Errorf("%s: round trip mismatch:\nin:  %q\nout: %q", name, in, out)
		}
		if doc.Dirty() {
			t.Errorf("%s: untouched document reported dirty", name)
		}
	}
}

func TestParseMalformedHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse("broken.ini", []byte("[Constants]\n$x = 1\n[Unclosed\n"))
	if err == nil {
		t.Fatal("expected a parse error for an unclosed section header")
	}
	if !IsParseError(err) {
		t.Fatalf("expected a ParseError, got %T", err)
	}
	pe := err.(*ParseError)
	if pe.Line != 3 {
		t.Errorf("expected failure on line 3, got %d", pe.Line)
	}
	if pe.Path != "broken.ini" {
		t.Errorf("expected path to be retained, got %q", pe.Path)
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	doc, err := Parse("test.ini", []byte(sampleINI))
	if err != nil {
		t.Fatal(err)
	}

	if v, ok := doc.Get("keyswap", "KEY"); !ok || v != "h" {
		t.Errorf("expected case-insensitive lookup to find %q, got %q (%v)", "h", v, ok)
	}
	if v, ok := doc.Get("TextureOverrideBody", "run"); !ok || v != "CommandListBody" {
		t.Errorf("expected value without padding, got %q (%v)", v, ok)
	}
	if _, ok := doc.Get("KeySwap", "missing"); ok {
		t.Error("expected lookup of a missing key to fail")
	}
	if _, ok := doc.Get("NoSuchSection", "key"); ok {
		t.Error("expected lookup in a missing section to fail")
	}
}

func TestSetRewritesValueInPlace(t *testing.T) {
	t.Parallel()

	in := "[KeySwap]\r\nkey   =   h\r\n$swapvar = 0,1,2   \r\n"
	doc, err := Parse("test.ini", []byte(in))
	if err != nil {
		t.Fatal(err)
	}

	doc.Set("KeySwap", "key", "j")
	if !doc.Dirty() {
		t.Error("expected document to be dirty after a change")
	}

	want := "[KeySwap]\r\nkey   =   j\r\n$swapvar = 0,1,2   \r\n"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("expected spacing to be preserved:\nwant %q\ngot  %q", want, got)
	}

	// Trailing whitespace after the value region stays where it was.
	doc.Set("KeySwap", "$swapvar", "0,1,2,3")
	want = "[KeySwap]\r\nkey   =   j\r\n$swapvar = 0,1,2,3   \r\n"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("expected trailing whitespace to survive:\nwant %q\ngot  %q", want, got)
	}
}

func TestSetSameValueDoesNotDirty(t *testing.T) {
	t.Parallel()

	doc, err := Parse("test.ini", []byte("[a]\nx = 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	doc.Set("a", "x", "1")
	if doc.Dirty() {
		t.Error("setting an identical value should not mark the document dirty")
	}
}

func TestSetAppendsMissingKey(t *testing.T) {
	t.Parallel()

	in := "[KeySwap]\nkey = h\n\n[Other]\nz = 9\n"
	doc, err := Parse("test.ini", []byte(in))
	if err != nil {
		t.Fatal(err)
	}

	doc.Set("KeySwap", "back", "k")

	want := "[KeySwap]\nkey = h\nback = k\n\n[Other]\nz = 9\n"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("expected key to be appended inside its section:\nwant %q\ngot  %q", want, got)
	}
	if v, ok := doc.Get("KeySwap", "back"); !ok || v != "k" {
		t.Errorf("expected new key to be readable, got %q (%v)", v, ok)
	}
}

func TestSetCreatesMissingSection(t *testing.T) {
	t.Parallel()

	doc, err := Parse("test.ini", []byte("[a]\nx = 1"))
	if err != nil {
		t.Fatal(err)
	}

	doc.Set("Constants", "$swapvar", "2")

	want := "[a]\nx = 1\n\n[Constants]\n$swapvar = 2\n"
	if got := string(doc.Serialize()); got != want {
		t.Errorf("expected section to be appended:\nwant %q\ngot  %q", want, got)
	}
}

func TestSetFillsEmptyValue(t *testing.T) {
	t.Parallel()

	doc, err := Parse("test.ini", []byte("[a]\nx =\n"))
	if err != nil {
		t.Fatal(err)
	}
	doc.Set("a", "x", "5")
	if got := string(doc.Serialize()); got != "[a]\nx = 5\n" {
		t.Errorf("expected a space ahead of the filled value, got %q", got)
	}
}

func TestSections(t *testing.T) {
	t.Parallel()

	doc, err := Parse("test.ini", []byte(sampleINI))
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"Constants", "KeySwap", "TextureOverrideBody"}
	got := doc.Sections()
	if len(got) != len(want) {
		t.Fatalf("expected %d sections, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
