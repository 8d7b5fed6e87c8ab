package sqlite

import (
	"database/sql"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/guard/id"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// ==================== Usage models ====================

type usageRecordModel struct {
	grove.BaseModel `grove:"table:guard_usage_records"`

	ID           string        `grove:"id,pk"`
	SubjectID    string        `grove:"subject_id"`
	FeatureSlug  string        `grove:"feature_slug"`
	CurrentUsage int64         `grove:"current_usage"`
	UsageLimit   sql.NullInt64 `grove:"usage_limit"`
	CreatedAt    time.Time     `grove:"created_at"`
	UpdatedAt    time.Time     `grove:"updated_at"`
}

func toUsageRecordModel(r *usage.Record) *usageRecordModel {
	m := &usageRecordModel{
		ID:           r.ID.String(),
		SubjectID:    r.SubjectID,
		FeatureSlug:  r.FeatureSlug,
		CurrentUsage: r.CurrentUsage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Limit != nil {
		m.UsageLimit = sql.NullInt64{Int64: *r.Limit, Valid: true}
	}
	return m
}

func fromUsageRecordModel(m *usageRecordModel) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(m.ID)
	if err != nil {
		return nil, err
	}

	r := &usage.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:           recID,
		SubjectID:    m.SubjectID,
		FeatureSlug:  m.FeatureSlug,
		CurrentUsage: m.CurrentUsage,
	}
	if m.UsageLimit.Valid {
		n := m.UsageLimit.Int64
		r.Limit = &n
	}
	return r, nil
}
