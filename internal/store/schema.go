package store

// The same DDL runs on DuckDB and SQLite: plain column types that DuckDB
// takes literally and SQLite maps through affinity. Timestamps travel as
// fixed-width UTC strings so scans behave identically on both drivers and
// string ORDER BY matches chronological order.
const schema = `
CREATE TABLE IF NOT EXISTS vods (
    id               VARCHAR PRIMARY KEY,
    channel_id       VARCHAR NOT NULL DEFAULT '',
    title            VARCHAR NOT NULL DEFAULT '',
    duration_seconds DOUBLE  NOT NULL DEFAULT 0,
    created_at       VARCHAR NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS emotes (
    id         VARCHAR NOT NULL,
    channel_id VARCHAR NOT NULL,
    source     VARCHAR NOT NULL DEFAULT '',
    name       VARCHAR NOT NULL,
    PRIMARY KEY (channel_id, id)
);

CREATE TABLE IF NOT EXISTS windows (
    vod_id              VARCHAR NOT NULL,
    window_index        INTEGER NOT NULL,
    start_seconds       DOUBLE  NOT NULL,
    end_seconds         DOUBLE  NOT NULL,
    message_count       INTEGER NOT NULL,
    unique_author_count INTEGER NOT NULL,
    emote_density       DOUBLE  NOT NULL,
    sentiment_avg       DOUBLE  NOT NULL,
    score               DOUBLE  NOT NULL,
    is_candidate        BOOLEAN NOT NULL,
    run_ts              VARCHAR NOT NULL,
    PRIMARY KEY (vod_id, window_index)
);

CREATE TABLE IF NOT EXISTS segments (
    segment_id     VARCHAR PRIMARY KEY,
    vod_id         VARCHAR NOT NULL,
    start_seconds  DOUBLE  NOT NULL,
    end_seconds    DOUBLE  NOT NULL,
    score          DOUBLE  NOT NULL,
    window_indices VARCHAR NOT NULL,
    status         VARCHAR NOT NULL,
    run_ts         VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_id           VARCHAR PRIMARY KEY,
    vod_id           VARCHAR NOT NULL,
    status           VARCHAR NOT NULL,
    stage            VARCHAR NOT NULL DEFAULT '',
    windows_written  INTEGER NOT NULL DEFAULT 0,
    segments_written INTEGER NOT NULL DEFAULT 0,
    malformed        INTEGER NOT NULL DEFAULT 0,
    duplicates       INTEGER NOT NULL DEFAULT 0,
    late_merged      INTEGER NOT NULL DEFAULT 0,
    late_dropped     INTEGER NOT NULL DEFAULT 0,
    error            VARCHAR NOT NULL DEFAULT '',
    started_at       VARCHAR NOT NULL,
    finished_at      VARCHAR NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_vod ON segments(vod_id);
CREATE INDEX IF NOT EXISTS idx_runs_vod     ON runs(vod_id);
`
