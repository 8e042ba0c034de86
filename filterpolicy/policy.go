// Package filterpolicy implements the hot-reloaded ACCEPT/DROP/SKIP
// decision the order poller consults before evaluating a conditional order
// (spec.md §4.4).
package filterpolicy

import "strings"

// Action is the filter policy's verdict for a candidate poll.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionDrop   Action = "DROP"
	ActionSkip   Action = "SKIP"
)

// Candidate identifies a single poll opportunity.
type Candidate struct {
	Owner               string
	Handler             string
	TransactionHash     string
	ConditionalOrderID  string
}

// Policy holds the default action plus four optional overrides, evaluated
// in the precedence order from spec.md §4.4: conditional-order id,
// transaction, owner, handler, then DefaultAction.
type Policy struct {
	DefaultAction    Action
	ByConditionalOrder map[string]Action
	ByTransaction    map[string]Action
	ByOwner          map[string]Action
	ByHandler        map[string]Action
}

// Evaluate returns the action for a candidate, per the evaluation order
// documented above. Keys are matched case-insensitively since hex addresses
// and hashes are frequently mixed-case.
func (p *Policy) Evaluate(c Candidate) Action {
	if p == nil {
		return ActionAccept
	}
	if a, ok := lookup(p.ByConditionalOrder, c.ConditionalOrderID); ok {
		return a
	}
	if a, ok := lookup(p.ByTransaction, c.TransactionHash); ok {
		return a
	}
	if a, ok := lookup(p.ByOwner, c.Owner); ok {
		return a
	}
	if a, ok := lookup(p.ByHandler, c.Handler); ok {
		return a
	}
	if p.DefaultAction == "" {
		return ActionAccept
	}
	return p.DefaultAction
}

func lookup(m map[string]Action, key string) (Action, bool) {
	if m == nil || key == "" {
		return "", false
	}
	a, ok := m[strings.ToLower(key)]
	return a, ok
}

// normalizeKeys lower-cases every key in a freshly-decoded dictionary so
// Evaluate's case-insensitive lookups are O(1).
func normalizeKeys(m map[string]Action) map[string]Action {
	if m == nil {
		return nil
	}
	out := make(map[string]Action, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
