package parser

import (
	"fmt"
	"os"
	"strings"

	"emperror.dev/errors"
)

// TokenType classifies a single line of an ini document.
type TokenType int

const (
	TokenSection TokenType = iota
	TokenKeyValue
	TokenComment
	TokenBlank
	TokenRaw
)

const utf8BOM = "\xef\xbb\xbf"

// token is one line of the original document. The raw text, including the
// original line ending, is retained verbatim so that serializing a document
// reproduces the input byte for byte. Key-value tokens additionally track the
// byte span of the value within raw so it can be rewritten in place without
// disturbing the surrounding spacing.
type token struct {
	typ TokenType
	raw string

	section  string
	key      string
	valStart int
	valEnd   int
}

func (t *token) value() string {
	return t.raw[t.valStart:t.valEnd]
}

// ParseError describes a file that could not be parsed. Parse failures are
// always scoped to a single file, a scan over a folder reports them alongside
// the documents that did parse.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: %s: line %d: %s", e.Path, e.Line, e.Reason)
}

// IsParseError checks if the given error is a parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Document is a parsed ini file. All mutations happen in place on the
// original line tokens, untouched content survives a parse and serialize
// cycle unchanged, down to mixed line endings and a missing final newline.
type Document struct {
	path   string
	bom    string
	eol    string
	tokens []token
	dirty  bool
}

// ParseFile reads and parses the ini file at the given path.
func ParseFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Line: 0, Reason: err.Error()}
	}
	return Parse(path, b)
}

// Parse parses raw ini content. The path is only used for error reporting
// and to identify the document later, nothing is read from the disk.
func Parse(path string, b []byte) (*Document, error) {
	d := &Document{path: path, eol: "\n"}

	content := string(b)
	if strings.HasPrefix(content, utf8BOM) {
		d.bom = utf8BOM
		content = content[len(utf8BOM):]
	}
	if strings.Contains(content, "\r\n") {
		d.eol = "\r\n"
	}

	lineno := 0
	for len(content) > 0 {
		lineno++
		var raw string
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			raw = content[:i+1]
			content = content[i+1:]
		} else {
			raw = content
			content = ""
		}

		tok, err := classify(raw)
		if err != nil {
			return nil, &ParseError{Path: path, Line: lineno, Reason: err.Error()}
		}
		d.tokens = append(d.tokens, tok)
	}

	return d, nil
}

func classify(raw string) (token, error) {
	line := strings.TrimRight(raw, "\r\n")
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return token{typ: TokenBlank, raw: raw}, nil
	case strings.HasPrefix(trimmed, ";") || strings.HasPrefix(trimmed, "#"):
		return token{typ: TokenComment, raw: raw}, nil
	case strings.HasPrefix(trimmed, "["):
		end := strings.IndexByte(trimmed, ']')
		if end < 0 {
			return token{}, errors.New("section header is missing closing bracket")
		}
		return token{typ: TokenSection, raw: raw, section: trimmed[1:end]}, nil
	}

	if eq := strings.IndexByte(line, '='); eq > 0 {
		key := strings.TrimSpace(line[:eq])
		if key != "" {
			start := eq + 1
			for start < len(line) && (line[start] == ' ' || line[start] == '\t') {
				start++
			}
			end := len(line)
			for end > start && (line[end-1] == ' ' || line[end-1] == '\t') {
				end--
			}
			return token{typ: TokenKeyValue, raw: raw, key: key, valStart: start, valEnd: end}, nil
		}
	}

	return token{typ: TokenRaw, raw: raw}, nil
}

// Path returns the file path this document was parsed from.
func (d *Document) Path() string {
	return d.path
}

// Dirty reports whether any mutation actually changed the document since it
// was parsed.
func (d *Document) Dirty() bool {
	return d.dirty
}

// Sections returns the section names in their order of first appearance.
func (d *Document) Sections() []string {
	var out []string
	seen := make(map[string]struct{})
	for i := range d.tokens {
		if d.tokens[i].typ != TokenSection {
			continue
		}
		k := strings.ToLower(d.tokens[i].section)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d.tokens[i].section)
	}
	return out
}

// HasSection checks for a section using case-insensitive matching, the way
// the model importers themselves resolve section names.
func (d *Document) HasSection(section string) bool {
	start, _ := d.sectionRange(section)
	return start >= 0
}

// Get returns the raw value of a key within a section. Section and key
// lookups are case-insensitive. The value is returned exactly as written,
// without any type coercion, surrounding whitespace is not included.
func (d *Document) Get(section, key string) (string, bool) {
	start, end := d.sectionRange(section)
	if start < 0 {
		return "", false
	}
	for i := start + 1; i < end; i++ {
		if d.tokens[i].typ == TokenKeyValue && strings.EqualFold(d.tokens[i].key, key) {
			return d.tokens[i].value(), true
		}
	}
	return "", false
}

// Set writes a value for a key within a section. An existing key has its
// value rewritten in place, the original spacing and line ending around it
// are preserved. A missing key is appended at the end of the section, a
// missing section is appended at the end of the document. The document is
// only marked dirty when its serialized bytes actually change.
func (d *Document) Set(section, key, value string) {
	start, end := d.sectionRange(section)
	if start < 0 {
		d.appendSection(section, key, value)
		d.dirty = true
		return
	}

	for i := start + 1; i < end; i++ {
		t := &d.tokens[i]
		if t.typ != TokenKeyValue || !strings.EqualFold(t.key, key) {
			continue
		}
		if t.value() == value {
			return
		}
		// Keep a space after the separator when a previously empty value
		// gets filled in, "key =2" reads like a typo.
		insert := value
		if t.valStart == t.valEnd && t.valStart > 0 && t.raw[t.valStart-1] == '=' && value != "" {
			insert = " " + value
		}
		t.raw = t.raw[:t.valStart] + insert + t.raw[t.valEnd:]
		t.valStart = t.valStart + len(insert) - len(value)
		t.valEnd = t.valStart + len(value)
		d.dirty = true
		return
	}

	d.insertKey(start, end, key, value)
	d.dirty = true
}

// Serialize renders the document back to bytes. A document that has not been
// mutated serializes to exactly the bytes it was parsed from.
func (d *Document) Serialize() []byte {
	var sb strings.Builder
	sb.WriteString(d.bom)
	for i := range d.tokens {
		sb.WriteString(d.tokens[i].raw)
	}
	return []byte(sb.String())
}

// sectionRange returns the token index of the section header and the index
// one past the last token belonging to the section. A start of -1 means the
// section does not exist.
func (d *Document) sectionRange(section string) (int, int) {
	start := -1
	for i := range d.tokens {
		if d.tokens[i].typ != TokenSection {
			continue
		}
		if start >= 0 {
			return start, i
		}
		if strings.EqualFold(d.tokens[i].section, section) {
			start = i
		}
	}
	if start >= 0 {
		return start, len(d.tokens)
	}
	return -1, -1
}

// insertKey adds a new key line at the end of an existing section, before
// any blank separator lines that lead into the next section.
func (d *Document) insertKey(start, end int, key, value string) {
	at := start
	for i := end - 1; i > start; i-- {
		if d.tokens[i].typ != TokenBlank {
			at = i
			break
		}
	}

	d.ensureEOL(at)
	line := token{typ: TokenKeyValue, raw: key + " = " + value + d.eol, key: key}
	line.valStart = len(key) + 3
	line.valEnd = line.valStart + len(value)

	d.tokens = append(d.tokens, token{})
	copy(d.tokens[at+2:], d.tokens[at+1:])
	d.tokens[at+1] = line
}

// appendSection adds a new section with a single key at the document end.
func (d *Document) appendSection(section, key, value string) {
	if n := len(d.tokens); n > 0 {
		d.ensureEOL(n - 1)
		if d.tokens[n-1].typ != TokenBlank {
			d.tokens = append(d.tokens, token{typ: TokenBlank, raw: d.eol})
		}
	}
	d.tokens = append(d.tokens, token{typ: TokenSection, raw: "[" + section + "]" + d.eol, section: section})

	line := token{typ: TokenKeyValue, raw: key + " = " + value + d.eol, key: key}
	line.valStart = len(key) + 3
	line.valEnd = line.valStart + len(value)
	d.tokens = append(d.tokens, line)
}

// ensureEOL makes sure the token at the given index ends with a line ending,
// the final line of a file is allowed to lack one.
func (d *Document) ensureEOL(i int) {
	if !strings.HasSuffix(d.tokens[i].raw, "\n") {
		d.tokens[i].raw += d.eol
	}
}
