package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create command log",
		SQL: `
			CREATE TABLE command_log (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				invocation_id  TEXT NOT NULL,
				channel_id     TEXT NOT NULL,
				chat_id        TEXT NOT NULL DEFAULT '',
				chat_kind      TEXT NOT NULL DEFAULT '',
				sender_id      TEXT NOT NULL,
				command        TEXT NOT NULL,
				args           TEXT NOT NULL DEFAULT '[]',
				outcome        TEXT NOT NULL,
				detail         TEXT NOT NULL DEFAULT '',
				received_at    TEXT NOT NULL,
				recorded_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "index command log by sender and command",
		SQL: `
			CREATE INDEX idx_command_log_sender ON command_log (sender_id, id);
			CREATE INDEX idx_command_log_command ON command_log (command, id);
		`,
	},
}
