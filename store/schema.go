package store

// Schema is the complete plugwatch schema. Timestamps are milliseconds
// since epoch except cookie expiry, which is unix seconds (what Chrome
// reports).
const Schema = `
-- External operator accounts, owned by local users
CREATE TABLE IF NOT EXISTS accounts (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    email       TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    UNIQUE (user_id, email)
);

-- Encrypted credential, at most one live row per account
CREATE TABLE IF NOT EXISTS credentials (
    account_id  TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
    secret      BLOB NOT NULL,
    algorithm   TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Cookie rows are never deleted: supersession flips current/valid so the
-- lineage (account_id, name, domain, path) keeps its audit trail.
CREATE TABLE IF NOT EXISTS cookies (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    value           TEXT NOT NULL,
    domain          TEXT NOT NULL,
    path            TEXT NOT NULL,
    expiry          INTEGER,
    secure          INTEGER NOT NULL DEFAULT 0,
    http_only       INTEGER NOT NULL DEFAULT 0,
    same_site       TEXT NOT NULL DEFAULT '',
    last_login_at   INTEGER NOT NULL,
    last_refresh_at INTEGER NOT NULL,
    valid           INTEGER NOT NULL DEFAULT 1,
    current         INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_cookies_lineage ON cookies(account_id, name, domain, path, current);
CREATE INDEX IF NOT EXISTS idx_cookies_account_current ON cookies(account_id, current, valid);

-- Physical locations
CREATE TABLE IF NOT EXISTS points (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    notes       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_points_user ON points(user_id);

-- Sockets; active gates refresh-batch membership
CREATE TABLE IF NOT EXISTS connectors (
    id          TEXT PRIMARY KEY,
    point_id    TEXT NOT NULL REFERENCES points(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL,
    position    INTEGER NOT NULL DEFAULT 1,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connectors_point ON connectors(point_id, position);

-- Append-only status observations
CREATE TABLE IF NOT EXISTS connector_states (
    id           TEXT PRIMARY KEY,
    connector_id TEXT NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
    status       TEXT NOT NULL,
    raw_hint     TEXT NOT NULL DEFAULT 'none',
    captured_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_states_connector ON connector_states(connector_id, captured_at DESC);

-- Derived current state: latest observation per connector
CREATE VIEW IF NOT EXISTS connector_state_current AS
SELECT s.id, s.connector_id, s.status, s.raw_hint, s.captured_at
FROM connector_states s
JOIN (
    SELECT connector_id, MAX(rowid) AS max_rowid
    FROM connector_states GROUP BY connector_id
) latest ON latest.max_rowid = s.rowid;

-- Latest-known descriptive snapshots, one row per entity
CREATE TABLE IF NOT EXISTS point_info (
    point_id        TEXT PRIMARY KEY REFERENCES points(id) ON DELETE CASCADE,
    name            TEXT,
    address         TEXT,
    provider        TEXT,
    lat             REAL,
    lng             REAL,
    connector_count INTEGER,
    max_power_kw    REAL,
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connector_info (
    connector_id  TEXT PRIMARY KEY REFERENCES connectors(id) ON DELETE CASCADE,
    type          TEXT,
    power_kw      REAL,
    price_text    TEXT,
    price_kwh     REAL,
    tariff_model  TEXT,
    updated_at    INTEGER NOT NULL
);

-- Watch sets and their items
CREATE TABLE IF NOT EXISTS watch_sets (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    name              TEXT NOT NULL,
    preferred_socket  TEXT NOT NULL DEFAULT 'A',
    switch_window_min INTEGER NOT NULL DEFAULT 5,
    active            INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watch_sets_user ON watch_sets(user_id);

CREATE TABLE IF NOT EXISTS watch_items (
    id               TEXT PRIMARY KEY,
    set_id           TEXT NOT NULL REFERENCES watch_sets(id) ON DELETE CASCADE,
    external_id      TEXT NOT NULL,
    priority         INTEGER NOT NULL DEFAULT 1,
    preferred_socket TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_watch_items_set ON watch_items(set_id, priority);

-- Extraction audit log
CREATE TABLE IF NOT EXISTS extraction_runs (
    id          TEXT PRIMARY KEY,
    target_kind TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    ran_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_target ON extraction_runs(target_kind, target_id, ran_at DESC);
`
