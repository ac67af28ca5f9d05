package capability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/soyeahso/cmdbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuditStore(t *testing.T) *store.AuditStore {
	t.Helper()
	db, err := store.Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewAuditStore(db)
}

func TestAudit_RecordsOutcomes(t *testing.T) {
	s := testAuditStore(t)
	h := newHarness(t, NewAudit(s, 10), NewControl(func(int) {}))

	h.run(t,
		cmd("bob", "status"),
		cmd("mallory", "shutdown"),
		cmd("bob", "frobnicate"),
	)

	ctx := context.Background()
	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byCommand := map[string]store.Entry{}
	for _, e := range entries {
		byCommand[e.Invocation.Command] = e
	}
	assert.Equal(t, store.OutcomeHandled, byCommand["status"].Outcome)
	assert.Equal(t, store.OutcomeRejected, byCommand["shutdown"].Outcome)
	assert.Equal(t, "identity(root)", byCommand["shutdown"].Detail)
	assert.Equal(t, store.OutcomeUnknown, byCommand["frobnicate"].Outcome)
}

func TestAudit_History(t *testing.T) {
	s := testAuditStore(t)
	ctx := context.Background()
	recent := cmd("bob", "execute", "uptime")
	recent.ID = "x1"
	recent.Timestamp = time.Now().Add(-2 * time.Minute)
	require.NoError(t, s.Record(ctx, recent, store.OutcomeFailed, "exit status 1"))

	h := newHarness(t, NewAudit(s, 10))
	replies := h.run(t, cmd(adminID, "history"))
	require.Len(t, replies, 1)
	assert.Equal(t, "#1 2 minutes ago bob@test: execute uptime [failed: exit status 1]", replies[0])
}

func TestAudit_HistoryLimitAndUsage(t *testing.T) {
	s := testAuditStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, cmd("bob", "status"), store.OutcomeHandled, ""))
	}

	h := newHarness(t, NewAudit(s, 3))
	replies := h.run(t, cmd(adminID, "history"))
	require.Len(t, replies, 1)
	assert.Len(t, strings.Split(replies[0], "\n"), 3)

	h = newHarness(t, NewAudit(s, 3))
	replies = h.run(t, cmd(adminID, "history", "abc"))
	assert.Equal(t, []string{"usage: history [1-100]"}, replies)
}

func TestAudit_EmptyHistory(t *testing.T) {
	h := newHarness(t, NewAudit(testAuditStore(t), 10))
	assert.Equal(t, []string{"No commands recorded."}, h.run(t, cmd(adminID, "history")))
}

func TestAudit_NonAdminIgnored(t *testing.T) {
	h := newHarness(t, NewAudit(testAuditStore(t), 10))
	assert.Empty(t, h.run(t, cmd("mallory", "history")))
}

func TestAudit_NeedsHooks(t *testing.T) {
	d := dispatch.New(newFakeTransport(), logging.New(nil, "silent"))
	requireConfigError(t, d.Attach(NewAudit(testAuditStore(t), 10)), nil)
}

