package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create call logs",
		SQL: `
			CREATE TABLE call_logs (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL DEFAULT '',
				tool_name   TEXT NOT NULL,
				success     INTEGER NOT NULL,
				latency     REAL NOT NULL DEFAULT 0,
				called_at   INTEGER NOT NULL
			);

			CREATE INDEX idx_call_logs_time ON call_logs (called_at, id);
			CREATE INDEX idx_call_logs_session ON call_logs (session_id);
		`,
	},
	{
		Version: 2,
		Name:    "create workflow runs",
		SQL: `
			CREATE TABLE workflow_runs (
				execution_id TEXT PRIMARY KEY,
				workflow     TEXT NOT NULL,
				success      INTEGER NOT NULL,
				succeeded    INTEGER NOT NULL DEFAULT 0,
				failed       INTEGER NOT NULL DEFAULT 0,
				skipped      INTEGER NOT NULL DEFAULT 0,
				duration_ms  REAL NOT NULL DEFAULT 0,
				finished_at  INTEGER NOT NULL
			);

			CREATE INDEX idx_workflow_runs_name ON workflow_runs (workflow, finished_at);
		`,
	},
}
