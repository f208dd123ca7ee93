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
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id            TEXT PRIMARY KEY,
				customer_id   TEXT NOT NULL DEFAULT '',
				title         TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL DEFAULT 'open',
				last_message  TEXT,
				unread_count  INTEGER NOT NULL DEFAULT 0,
				created_at    TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_updated ON conversations (updated_at);

			CREATE TABLE messages (
				id               TEXT PRIMARY KEY,
				conversation_id  TEXT NOT NULL,
				sender_id        TEXT NOT NULL,
				sender_type      TEXT NOT NULL DEFAULT 'user',
				message_type     TEXT NOT NULL DEFAULT 'text',
				content          TEXT NOT NULL,
				metadata         TEXT,
				created_at       TEXT NOT NULL DEFAULT (datetime('now')),
				read_at          TEXT
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "create notifications",
		SQL: `
			CREATE TABLE notifications (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				type        TEXT NOT NULL,
				content     TEXT NOT NULL,
				link        TEXT NOT NULL DEFAULT '',
				metadata    TEXT,
				read        INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_notifications_user ON notifications (user_id, created_at);
		`,
	},
}
