// Package filter provides accept/reject predicates over command invocations
// and the AND-chains that gate every registered command handler.
package filter

import (
	"fmt"
	"time"

	"github.com/soyeahso/cmdbot/internal/domain"
)

// Predicate decides whether an invocation may be processed.
// Implementations must be free of side effects.
type Predicate interface {
	Accept(inv domain.Invocation) bool
	String() string
}

// Func adapts a plain function to the Predicate interface.
type Func struct {
	Name string
	Fn   func(inv domain.Invocation) bool
}

func (f Func) Accept(inv domain.Invocation) bool { return f.Fn(inv) }
func (f Func) String() string                    { return f.Name }

// AliveSince accepts invocations issued strictly after T0. It keeps a
// transport that replays its backlog on reconnect from re-running commands
// sent before the process existed.
type AliveSince struct {
	T0 time.Time
}

func (p AliveSince) Accept(inv domain.Invocation) bool {
	return inv.Timestamp.After(p.T0)
}

func (p AliveSince) String() string {
	return fmt.Sprintf("alive-since(%s)", p.T0.Format(time.RFC3339Nano))
}

// IdentityEquals accepts invocations whose sender is ID.
type IdentityEquals struct {
	ID string
}

func (p IdentityEquals) Accept(inv domain.Invocation) bool {
	return inv.SenderID == p.ID
}

func (p IdentityEquals) String() string {
	return fmt.Sprintf("identity(%s)", p.ID)
}

// ChatKindEquals accepts invocations issued in a chat of the given kind.
type ChatKindEquals struct {
	Kind domain.ChatKind
}

func (p ChatKindEquals) Accept(inv domain.Invocation) bool {
	return inv.ChatKind == p.Kind
}

func (p ChatKindEquals) String() string {
	return fmt.Sprintf("chat-kind(%s)", p.Kind)
}
