// Package reconcile diffs the folders a scan discovered against the
// reference records the repository holds. It is a pure computation, nothing
// in here touches the disk: the output is a set of candidates describing
// how each side relates to the other, which the plan builder then turns
// into executable work.
package reconcile

import (
	"sort"
	"strings"
	"unicode"

	"github.com/apex/log"
	"github.com/xrash/smetrics"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/repository"
	"github.com/reynalivan/emm-core/scanner"
)

// Status describes how a reference record and the disk relate to each other
// for a single candidate.
type Status string

const (
	// StatusMissingOnDisk is a reference record with no discovered folder.
	StatusMissingOnDisk Status = "missing-on-disk"

	// StatusPresentMatched is a matched pair whose syncable fields agree.
	StatusPresentMatched Status = "present-matched"

	// StatusPresentConflicting is a matched pair with at least one syncable
	// field differing. A conflict is a state for the caller to resolve, it
	// is never treated as an error.
	StatusPresentConflicting Status = "present-conflicting"

	// StatusExtraOnDisk is a discovered folder that no reference record
	// claimed with enough confidence. Extras are surfaced, never deleted.
	StatusExtraOnDisk Status = "extra-on-disk"
)

// FieldDiff records one syncable field whose on-disk value differs from the
// value the reference database holds for it.
type FieldDiff struct {
	Field string `json:"field"`
	Local string `json:"local"`
	Want  string `json:"want"`
}

// Candidate pairs a reference record with at most one discovered folder.
// Candidates are computed fresh on every run and never persisted.
type Candidate struct {
	Status Status `json:"status"`

	// Object is the reference record side of the pair. It is the zero value
	// when the status is extra-on-disk.
	Object repository.ModObject `json:"object"`

	// Entry is the discovered folder side of the pair, nil when the status
	// is missing-on-disk.
	Entry *scanner.Entry `json:"entry,omitempty"`

	// Score is the name similarity that produced the pairing, 1 for an
	// exact identity match. Zero when nothing was paired.
	Score float64 `json:"score"`

	// Diffs carries the field level differences for a conflicting pair.
	Diffs []FieldDiff `json:"diffs,omitempty"`
}

// Engine matches discovered folders to reference records. Matching policy is
// carried on the struct so a run is reproducible regardless of configuration
// changes happening next to it.
type Engine struct {
	// Threshold is the minimum similarity score a fuzzy name match needs to
	// be accepted. Folders scoring below it stay extra-on-disk.
	Threshold float64

	// TagBonus is added to the score when the folder name appears inside
	// one of the record's tags.
	TagBonus float64
}

// New returns an engine configured from the given matching policy.
func New(m config.MatchingConfiguration) *Engine {
	return &Engine{Threshold: m.ConfidenceThreshold, TagBonus: m.TagBonus}
}

// claim is one discovered folder asking for one reference record.
type claim struct {
	entry *scanner.Entry
	order int
	score float64
	exact bool
}

// Reconcile compares discovered folders against reference records and
// returns one candidate per pairing. Records keep their repository order,
// folders that stayed unpaired are appended afterwards in scan order.
// Unmanaged entries are not considered, they are reported by the scanner
// and left alone here.
//
// Pairing is exact first: a folder whose derived identity key equals a
// record's identity claims that record outright. Everything else falls back
// to a normalized name similarity, case and punctuation insensitive, and a
// claim below the confidence threshold is dropped rather than guessed. When
// several folders claim the same record the exact claim wins, then the
// highest score, then the earliest scanned folder.
func (e *Engine) Reconcile(objects []repository.ModObject, discovered []scanner.Entry) []Candidate {
	index := make(map[string]int, len(objects))
	for i, obj := range objects {
		index[obj.Identity] = i
	}

	claims := make(map[string][]claim)
	var unpaired []claim
	considered := 0
	for i := range discovered {
		entry := &discovered[i]
		if entry.Kind == scanner.KindUnmanaged {
			continue
		}
		considered++

		name := localName(entry)
		if j, ok := index[repository.IdentityKey(name)]; ok {
			id := objects[j].Identity
			claims[id] = append(claims[id], claim{entry: entry, order: i, score: 1, exact: true})
			continue
		}

		obj, score, ok := e.bestMatch(objects, name)
		if !ok {
			unpaired = append(unpaired, claim{entry: entry, order: i})
			continue
		}
		claims[obj.Identity] = append(claims[obj.Identity], claim{entry: entry, order: i, score: score})
	}

	out := make([]Candidate, 0, len(objects)+len(unpaired))
	for _, obj := range objects {
		cs := claims[obj.Identity]
		if len(cs) == 0 {
			out = append(out, Candidate{Status: StatusMissingOnDisk, Object: obj})
			continue
		}
		winner := pickWinner(cs)
		for _, c := range cs {
			if c.entry != winner.entry {
				unpaired = append(unpaired, c)
			}
		}
		cand := Candidate{Object: obj, Entry: winner.entry, Score: winner.score}
		if cand.Diffs = e.diff(obj, winner.entry); len(cand.Diffs) > 0 {
			cand.Status = StatusPresentConflicting
		} else {
			cand.Status = StatusPresentMatched
		}
		out = append(out, cand)
	}

	sort.SliceStable(unpaired, func(i, j int) bool {
		return unpaired[i].order < unpaired[j].order
	})
	for _, c := range unpaired {
		out = append(out, Candidate{Status: StatusExtraOnDisk, Entry: c.entry})
	}

	log.WithFields(log.Fields{
		"records":    len(objects),
		"discovered": considered,
		"candidates": len(out),
	}).Debug("reconciled discovered folders against reference records")

	return out
}

// bestMatch scans every record for the highest scoring fuzzy claim on the
// given folder name. The first record wins a tied score so repository order
// stays authoritative.
func (e *Engine) bestMatch(objects []repository.ModObject, name string) (repository.ModObject, float64, bool) {
	norm := normalizeName(name)
	lower := strings.ToLower(name)

	var best repository.ModObject
	var bestScore float64
	found := false
	for _, obj := range objects {
		score := smetrics.JaroWinkler(norm, normalizeName(obj.Name), 0.7, 4)
		for _, tag := range obj.Tags {
			if strings.Contains(strings.ToLower(tag), lower) {
				score += e.TagBonus
				break
			}
		}
		if score > bestScore {
			best, bestScore, found = obj, score, true
		}
	}
	if !found || bestScore < e.Threshold {
		return repository.ModObject{}, 0, false
	}
	return best, bestScore, true
}

// pickWinner resolves several folders claiming the same record: an exact
// identity claim beats any fuzzy one, then the highest score, then the
// folder that was scanned first.
func pickWinner(cs []claim) claim {
	winner := cs[0]
	for _, c := range cs[1:] {
		switch {
		case c.exact != winner.exact:
			if c.exact {
				winner = c
			}
		case c.score != winner.score:
			if c.score > winner.score {
				winner = c
			}
		case c.order < winner.order:
			winner = c
		}
	}
	return winner
}

// diff compares the syncable fields of a matched pair. Fields the reference
// record leaves empty are not compared, the database has no opinion on them
// and syncing would only erase local data.
func (e *Engine) diff(obj repository.ModObject, entry *scanner.Entry) []FieldDiff {
	var p scanner.ObjectProperties
	if entry.Properties != nil {
		p = *entry.Properties
	}

	var diffs []FieldDiff
	add := func(field, local, want string) {
		if want == "" || local == want {
			return
		}
		diffs = append(diffs, FieldDiff{Field: field, Local: local, Want: want})
	}

	add("name", localName(entry), obj.Name)
	add("rarity", p.Rarity, obj.Rarity)
	add("element", p.Element, obj.Element)
	add("gender", p.Gender, obj.Gender)

	if len(obj.Tags) > 0 && !sameTags(p.Tags, obj.Tags) {
		diffs = append(diffs, FieldDiff{
			Field: "tags",
			Local: strings.Join(p.Tags, ", "),
			Want:  strings.Join(obj.Tags, ", "),
		})
	}

	// A folder that has any thumbnail keeps it. The database image only
	// fills the gap where a folder has none, so a pair stays matched once
	// the gap is filled.
	if obj.Thumbnail != "" && entry.Thumbnail == "" {
		diffs = append(diffs, FieldDiff{Field: "thumbnail", Want: obj.Thumbnail})
	}

	return diffs
}

// localName is the name a folder should be matched and compared under: the
// sidecar's actual name when one is present, the display name otherwise.
func localName(entry *scanner.Entry) string {
	if entry.Properties != nil && entry.Properties.ActualName != "" {
		return entry.Properties.ActualName
	}
	return entry.DisplayName
}

// normalizeName lowercases a name and strips punctuation so that folder
// naming habits like underscores or stray dashes do not depress the score.
func normalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// sameTags compares two tag sets ignoring order and case.
func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, t := range a {
		seen[strings.ToLower(t)]++
	}
	for _, t := range b {
		k := strings.ToLower(t)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
