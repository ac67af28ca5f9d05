package filter

import (
	"strings"

	"github.com/soyeahso/cmdbot/internal/domain"
)

// Chain is an ordered AND-combination of predicates. The zero value is an
// empty chain, which accepts every invocation.
type Chain struct {
	preds []Predicate
}

// NewChain returns a chain holding preds in order.
func NewChain(preds ...Predicate) Chain {
	var c Chain
	c.Append(preds...)
	return c
}

// Append adds predicates to the end of the chain. Nil predicates are skipped.
func (c *Chain) Append(preds ...Predicate) {
	for _, p := range preds {
		if p != nil {
			c.preds = append(c.preds, p)
		}
	}
}

// And returns a new chain holding c's predicates followed by other's.
// Neither operand is modified.
func (c Chain) And(other Chain) Chain {
	out := Chain{preds: make([]Predicate, 0, len(c.preds)+len(other.preds))}
	out.preds = append(out.preds, c.preds...)
	out.preds = append(out.preds, other.preds...)
	return out
}

// With returns a new chain holding c's predicates followed by preds.
func (c Chain) With(preds ...Predicate) Chain {
	return c.And(NewChain(preds...))
}

// Accept reports whether every predicate accepts inv. Evaluation stops at
// the first rejection.
func (c Chain) Accept(inv domain.Invocation) bool {
	for _, p := range c.preds {
		if !p.Accept(inv) {
			return false
		}
	}
	return true
}

// Rejecting returns the first predicate that rejects inv, or nil.
func (c Chain) Rejecting(inv domain.Invocation) Predicate {
	for _, p := range c.preds {
		if !p.Accept(inv) {
			return p
		}
	}
	return nil
}

// Len returns the number of predicates in the chain.
func (c Chain) Len() int { return len(c.preds) }

// Predicates returns a copy of the chain's predicates.
func (c Chain) Predicates() []Predicate {
	out := make([]Predicate, len(c.preds))
	copy(out, c.preds)
	return out
}

func (c Chain) String() string {
	if len(c.preds) == 0 {
		return "any"
	}
	names := make([]string, len(c.preds))
	for i, p := range c.preds {
		names[i] = p.String()
	}
	return strings.Join(names, " & ")
}
