package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Guard store.
var Migrations = migrate.NewGroup("guard")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_guard_usage_records",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS guard_usage_records (
    id            TEXT PRIMARY KEY,
    subject_id    TEXT NOT NULL,
    feature_slug  TEXT NOT NULL,
    current_usage BIGINT NOT NULL DEFAULT 0 CHECK (current_usage >= 0),
    usage_limit   BIGINT CHECK (usage_limit >= 0),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_guard_usage_subject_feature ON guard_usage_records (subject_id, feature_slug);
CREATE INDEX IF NOT EXISTS idx_guard_usage_subject ON guard_usage_records (subject_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS guard_usage_records`)
				return err
			},
		},
	)
}
