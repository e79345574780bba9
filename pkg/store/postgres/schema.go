package postgres

// Schema mirrors the SQLite layout. Timestamps are Unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    created_at   BIGINT NOT NULL,
    last_seen    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics (
    id           BIGSERIAL PRIMARY KEY,
    node_id      TEXT NOT NULL,
    ts           BIGINT NOT NULL,
    cpu          DOUBLE PRECISION NOT NULL,
    memory       DOUBLE PRECISION NOT NULL,
    disk         DOUBLE PRECISION NOT NULL,
    net_rx_delta BIGINT NOT NULL,
    net_tx_delta BIGINT NOT NULL,
    net_rx_total BIGINT NOT NULL,
    net_tx_total BIGINT NOT NULL,
    uptime       BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
CREATE INDEX IF NOT EXISTS idx_metrics_node_ts ON metrics(node_id, ts);
`

const upsertNodeSQL = `
INSERT INTO nodes (id, display_name, created_at, last_seen) VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET
    display_name = CASE WHEN $4 <> '' THEN EXCLUDED.display_name ELSE nodes.display_name END,
    last_seen = GREATEST(nodes.last_seen, EXCLUDED.last_seen)`

const insertMetricSQL = `
INSERT INTO metrics (node_id, ts, cpu, memory, disk, net_rx_delta, net_tx_delta, net_rx_total, net_tx_total, uptime)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
