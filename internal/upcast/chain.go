// Package upcast rewrites stored event payloads from older schema revisions
// to the current one before they are decoded.
//
// A Rule handles exactly one (event type, source revision) pair and produces
// the next revision. The Chain applies matching rules until none matches.
// Rules never fail: when information is missing they synthesize a default,
// because historical events cannot be regenerated.
package upcast

import (
	"fmt"

	"coffeeshop.io/coffeeshop/internal/domain"
)

// InitialRevision is assumed for payloads stored without a revision tag.
const InitialRevision = "1"

// Rule upgrades one event type from revision From to revision To.
type Rule struct {
	EventType domain.EventType
	From      string
	To        string
	Apply     func(payload []byte) []byte
}

type ruleKey struct {
	eventType domain.EventType
	revision  string
}

// Chain is an immutable table of rules built once at startup.
type Chain struct {
	rules map[ruleKey]Rule
}

// NewChain validates and indexes rules. Two rules for the same source
// revision, a rule that does not advance the revision, or a cycle are
// registration bugs and are reported here rather than at read time.
func NewChain(rules ...Rule) (*Chain, error) {
	c := &Chain{rules: make(map[ruleKey]Rule, len(rules))}
	for _, r := range rules {
		if r.Apply == nil {
			return nil, fmt.Errorf("upcast rule %s %s->%s has no Apply", r.EventType, r.From, r.To)
		}
		from := normalize(r.From)
		if from == normalize(r.To) {
			return nil, fmt.Errorf("upcast rule %s %s->%s does not advance the revision", r.EventType, r.From, r.To)
		}
		k := ruleKey{r.EventType, from}
		if _, dup := c.rules[k]; dup {
			return nil, fmt.Errorf("duplicate upcast rule for %s revision %s", r.EventType, from)
		}
		c.rules[k] = r
	}

	for k := range c.rules {
		seen := map[string]bool{}
		rev := k.revision
		for {
			r, ok := c.rules[ruleKey{k.eventType, rev}]
			if !ok {
				break
			}
			if seen[rev] {
				return nil, fmt.Errorf("upcast rules for %s form a cycle at revision %s", k.eventType, rev)
			}
			seen[rev] = true
			rev = normalize(r.To)
		}
	}
	return c, nil
}

// CanUpcast reports whether a rule exists for the stored revision.
func (c *Chain) CanUpcast(eventType domain.EventType, revision string) bool {
	_, ok := c.rules[ruleKey{eventType, normalize(revision)}]
	return ok
}

// Upcast applies rules until the payload reaches a revision no rule handles.
// It returns the resulting revision and payload; a current payload is
// returned unchanged.
func (c *Chain) Upcast(eventType domain.EventType, revision string, payload []byte) (string, []byte) {
	rev := normalize(revision)
	for {
		r, ok := c.rules[ruleKey{eventType, rev}]
		if !ok {
			return rev, payload
		}
		payload = r.Apply(payload)
		rev = normalize(r.To)
	}
}

// Len returns the number of registered rules.
func (c *Chain) Len() int { return len(c.rules) }

func normalize(revision string) string {
	if revision == "" {
		return InitialRevision
	}
	return revision
}
