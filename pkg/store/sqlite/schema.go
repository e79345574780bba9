package sqlite

// Schema contains the SQL statements to create the collector schema.
// Timestamps are Unix milliseconds.
const Schema = `
-- Nodes table: one row per reporting host, created on first ingestion
CREATE TABLE IF NOT EXISTS nodes (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL
);

-- Metrics table: append-only log, one row per accepted ingestion
CREATE TABLE IF NOT EXISTS metrics (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id      TEXT NOT NULL,
    ts           INTEGER NOT NULL,
    cpu          REAL NOT NULL,
    memory       REAL NOT NULL,
    disk         REAL NOT NULL,
    net_rx_delta INTEGER NOT NULL,
    net_tx_delta INTEGER NOT NULL,
    net_rx_total INTEGER NOT NULL,
    net_tx_total INTEGER NOT NULL,
    uptime       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
CREATE INDEX IF NOT EXISTS idx_metrics_node_ts ON metrics(node_id, ts);
`

const upsertNodeSQL = `
INSERT INTO nodes (id, display_name, created_at, last_seen) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    display_name = CASE WHEN ? <> '' THEN excluded.display_name ELSE nodes.display_name END,
    last_seen = MAX(nodes.last_seen, excluded.last_seen)`

const insertMetricSQL = `
INSERT INTO metrics (node_id, ts, cpu, memory, disk, net_rx_delta, net_tx_delta, net_rx_total, net_tx_total, uptime)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
