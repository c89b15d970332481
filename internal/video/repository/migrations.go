package repository

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS unprocessed_videos (
		id              VARCHAR(24) PRIMARY KEY,
		seq             BIGSERIAL,
		video_url       TEXT NOT NULL,
		latitude        DOUBLE PRECISION NOT NULL,
		longitude       DOUBLE PRECISION NOT NULL,
		address         TEXT NOT NULL DEFAULT '',
		processed       BOOLEAN NOT NULL DEFAULT FALSE,
		processed_id    VARCHAR(24),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT unprocessed_videos_latitude_range CHECK (latitude BETWEEN -90 AND 90),
		CONSTRAINT unprocessed_videos_longitude_range CHECK (longitude BETWEEN -180 AND 180),
		CONSTRAINT unprocessed_videos_processed_link CHECK (processed = (processed_id IS NOT NULL))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_unprocessed_videos_pending ON unprocessed_videos(processed, created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS processed_videos (
		id                  VARCHAR(24) PRIMARY KEY,
		seq                 BIGSERIAL,
		unprocessed_id      VARCHAR(24),
		original_video_url  TEXT NOT NULL DEFAULT '',
		processed_video_url TEXT NOT NULL,
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		address             TEXT NOT NULL DEFAULT '',
		extra_data          JSONB,
		title               TEXT NOT NULL DEFAULT '',
		thumbnail           TEXT NOT NULL DEFAULT '',
		rider_name          TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL DEFAULT '',
		detection_summary   JSONB,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT processed_videos_unprocessed_id_key UNIQUE (unprocessed_id),
		CONSTRAINT processed_videos_latitude_range CHECK (latitude BETWEEN -90 AND 90),
		CONSTRAINT processed_videos_longitude_range CHECK (longitude BETWEEN -180 AND 180)
	);`,
	`ALTER TABLE processed_videos ALTER COLUMN latitude DROP NOT NULL, ALTER COLUMN longitude DROP NOT NULL;`,
	`DROP INDEX IF EXISTS idx_processed_videos_created_at;`,
	`CREATE INDEX IF NOT EXISTS idx_processed_videos_newest ON processed_videos(created_at DESC, seq ASC);`,
	`CREATE TABLE IF NOT EXISTS detection_results (
		id                VARCHAR(24) PRIMARY KEY,
		seq               BIGSERIAL,
		video_id          VARCHAR(24),
		unprocessed_id    VARCHAR(24),
		video_file        TEXT NOT NULL DEFAULT '',
		duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration          TEXT NOT NULL DEFAULT '',
		detection_summary JSONB NOT NULL DEFAULT '{}'::jsonb,
		detections        JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_results_video_id ON detection_results(video_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_results_unprocessed_id ON detection_results(unprocessed_id);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_results_created_at ON detection_results(created_at);`,
	`CREATE TABLE IF NOT EXISTS users (
		id         VARCHAR(24) PRIMARY KEY,
		name       TEXT NOT NULL,
		role       TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_users_role_status ON users(role, status);`,
	`CREATE TABLE IF NOT EXISTS rewards (
		id         VARCHAR(24) PRIMARY KEY,
		rider_id   VARCHAR(24) NOT NULL,
		amount     NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}
