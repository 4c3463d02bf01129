package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repository TEXT NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    merged INTEGER DEFAULT 0,
    not_merged INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository);

CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    repository TEXT NOT NULL,
    mr_iid INTEGER NOT NULL,
    title TEXT NOT NULL,
    web_url TEXT,
    terminal TEXT NOT NULL,
    reason TEXT,
    retries INTEGER DEFAULT 0,
    rebases INTEGER DEFAULT 0,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_mr ON outcomes(repository, mr_iid);
`
