package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	task_ref    TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT 'info',
	status      TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'read', 'deleted')),
	message     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE notifications ADD COLUMN title TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_notifications_task_ref
	ON notifications(task_ref);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
	{
		version: 4,
		sql: `
ALTER TABLE notifications ADD COLUMN due_at DATETIME;

CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(due_at);

INSERT INTO schema_version (version) VALUES (4);
`,
	},
}
