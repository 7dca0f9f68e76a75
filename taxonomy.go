package xledger

import (
	"sort"
	"strings"
	"sync"
)

// KindBroadcast is the reserved kind routed to the global broadcast channel.
const KindBroadcast = "platform.broadcast"

// kindSeparator splits a kind into its namespace and the local name.
const kindSeparator = "."

// Taxonomy is the closed set of event kinds the platform recognizes.
// It is an explicit, constructed object (no ambient global): populate it at
// startup, hand it to the BusBuilder, treat it as read-mostly thereafter.
type Taxonomy struct {
	mu    sync.RWMutex
	kinds map[string]string // kind -> description
}

// NewTaxonomy returns an empty taxonomy. The reserved broadcast kind is
// always a member.
func NewTaxonomy() *Taxonomy {
	t := &Taxonomy{kinds: make(map[string]string)}
	t.kinds[KindBroadcast] = "global broadcast to every live subscriber"
	return t
}

// Register adds a kind to the taxonomy. Registering an already-known kind
// overwrites its description; the set only ever grows.
func (t *Taxonomy) Register(kind, description string) error {
	if kind == "" {
		return ErrInvalidEventKind
	}
	t.mu.Lock()
	t.kinds[kind] = description
	t.mu.Unlock()
	return nil
}

// Known reports whether kind is a member of the taxonomy.
func (t *Taxonomy) Known(kind string) bool {
	t.mu.RLock()
	_, ok := t.kinds[kind]
	t.mu.RUnlock()
	return ok
}

// Kinds returns the sorted member kinds.
func (t *Taxonomy) Kinds() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.kinds))
	for k := range t.kinds {
		out = append(out, k)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// kindNamespace returns the segment before the first separator, or the whole
// kind when there is none.
func kindNamespace(kind string) string {
	if i := strings.Index(kind, kindSeparator); i > 0 {
		return kind[:i]
	}
	return kind
}

// Platform kinds. The taxonomy is closed: business modules publish only kinds
// declared here (or registered explicitly at startup for extensions).
const (
	KindMissionCreated   = "mission.created"
	KindMissionAssigned  = "mission.assigned"
	KindMissionCompleted = "mission.completed"
	KindMissionFailed    = "mission.failed"

	KindCreditAllocated = "credit.allocated"
	KindCreditConsumed  = "credit.consumed"
	KindCreditExhausted = "credit.exhausted"

	KindPolicyEvaluated = "policy.evaluated"
	KindPolicyViolation = "policy.violation"

	KindGovernanceProposal = "governance.proposal"
	KindGovernanceDecision = "governance.decision"

	KindDistributionStarted   = "distribution.started"
	KindDistributionCompleted = "distribution.completed"
)

// DefaultTaxonomy returns the platform taxonomy with every built-in kind
// registered.
func DefaultTaxonomy() *Taxonomy {
	t := NewTaxonomy()
	builtins := map[string]string{
		KindMissionCreated:        "a mission was created and queued",
		KindMissionAssigned:       "a mission was assigned to an agent",
		KindMissionCompleted:      "a mission finished successfully",
		KindMissionFailed:         "a mission finished with an error",
		KindCreditAllocated:       "credits were allocated to a tenant",
		KindCreditConsumed:        "credits were consumed by an operation",
		KindCreditExhausted:       "a tenant ran out of credits",
		KindPolicyEvaluated:       "a policy rule set was evaluated",
		KindPolicyViolation:       "a policy rule was violated",
		KindGovernanceProposal:    "a governance proposal was opened",
		KindGovernanceDecision:    "a governance proposal was decided",
		KindDistributionStarted:   "a distribution run started",
		KindDistributionCompleted: "a distribution run completed",
	}
	for k, d := range builtins {
		_ = t.Register(k, d)
	}
	return t
}
