package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/cmdbot/internal/domain"
)

// Outcome records how the dispatcher disposed of a command.
type Outcome string

const (
	OutcomeHandled  Outcome = "handled"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
	OutcomeUnknown  Outcome = "unknown"
)

// Entry is one row of the command log.
type Entry struct {
	ID         int64
	Invocation domain.Invocation
	Outcome    Outcome
	Detail     string
	RecordedAt time.Time
}

// AuditStore appends and queries the command log.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an audit store using the given database.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record appends an entry for the invocation.
func (s *AuditStore) Record(ctx context.Context, inv domain.Invocation, outcome Outcome, detail string) error {
	args := inv.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}

	ts := inv.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO command_log (invocation_id, channel_id, chat_id, chat_kind, sender_id, command, args, outcome, detail, received_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ChannelID, inv.ChatID, string(inv.ChatKind), inv.SenderID, inv.Command,
		string(argsJSON), string(outcome), detail,
		ts.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording command %s: %w", inv.Command, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, invocation_id, channel_id, chat_id, chat_kind, sender_id, command, args, outcome, detail, received_at, recorded_at
		 FROM command_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			chatKind, outcome      string
			argsJSON               string
			receivedAt, recordedAt string
		)
		if err := rows.Scan(
			&e.ID, &e.Invocation.ID, &e.Invocation.ChannelID, &e.Invocation.ChatID, &chatKind,
			&e.Invocation.SenderID, &e.Invocation.Command, &argsJSON, &outcome, &e.Detail,
			&receivedAt, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		e.Invocation.ChatKind = domain.ChatKind(chatKind)
		e.Outcome = Outcome(outcome)
		if err := json.Unmarshal([]byte(argsJSON), &e.Invocation.Args); err != nil {
			s.db.log.Warn().Err(err).Int64("id", e.ID).Msg("bad args column")
		}
		if len(e.Invocation.Args) == 0 {
			e.Invocation.Args = nil
		}
		e.Invocation.Timestamp, _ = time.Parse(time.RFC3339Nano, receivedAt)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries with the given outcome, or all
// entries when outcome is empty.
func (s *AuditStore) Count(ctx context.Context, outcome Outcome) (int, error) {
	var n int
	var err error
	if outcome == "" {
		err = s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_log`).Scan(&n)
	} else {
		err = s.db.sql.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM command_log WHERE outcome = ?`, string(outcome)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting command log: %w", err)
	}
	return n, nil
}
