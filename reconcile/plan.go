package reconcile

import (
	"github.com/apex/log"
)

// Op is the corrective action planned for one candidate.
type Op string

const (
	// OpCreate materializes a missing record as a fresh object folder.
	OpCreate Op = "create"

	// OpPatch rewrites a conflicting folder's sidecar from the record.
	OpPatch Op = "patch"

	// OpSkip leaves the candidate alone, used for matched pairs and for
	// extras that only the user may decide about.
	OpSkip Op = "skip"
)

// Action binds one candidate to the operation that resolves it.
type Action struct {
	Op        Op        `json:"op"`
	Candidate Candidate `json:"candidate"`
}

// Plan is an ordered list of corrective actions for one library. A plan is
// advisory until something executes it, building one has no side effects.
type Plan struct {
	// DryRun marks a plan that must be reported but never applied.
	DryRun bool `json:"dry_run"`

	Actions []Action `json:"actions"`
}

// BuildPlan turns reconciliation candidates into a corrective plan: missing
// records get created, conflicting pairs get patched, everything else is
// kept as a skip so the report stays complete.
func BuildPlan(candidates []Candidate, dryRun bool) *Plan {
	p := &Plan{DryRun: dryRun, Actions: make([]Action, 0, len(candidates))}
	for _, c := range candidates {
		op := OpSkip
		switch c.Status {
		case StatusMissingOnDisk:
			op = OpCreate
		case StatusPresentConflicting:
			op = OpPatch
		}
		p.Actions = append(p.Actions, Action{Op: op, Candidate: c})
	}

	creates, patches, _ := p.Counts()
	log.WithFields(log.Fields{
		"create":  creates,
		"patch":   patches,
		"dry_run": dryRun,
	}).Info("built reconciliation plan")

	return p
}

// Counts reports how many creates, patches and skips the plan holds.
func (p *Plan) Counts() (creates, patches, skips int) {
	for _, a := range p.Actions {
		switch a.Op {
		case OpCreate:
			creates++
		case OpPatch:
			patches++
		default:
			skips++
		}
	}
	return creates, patches, skips
}

// Changes reports whether the plan would modify anything when applied.
func (p *Plan) Changes() bool {
	for _, a := range p.Actions {
		if a.Op != OpSkip {
			return true
		}
	}
	return false
}
