package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/guard/id"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// ==================== Usage models ====================

type usageRecordModel struct {
	grove.BaseModel `grove:"table:guard_usage_records"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	SubjectID    string    `grove:"subject_id"    bson:"subject_id"`
	FeatureSlug  string    `grove:"feature_slug"  bson:"feature_slug"`
	CurrentUsage int64     `grove:"current_usage" bson:"current_usage"`
	UsageLimit   *int64    `grove:"usage_limit"   bson:"usage_limit"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
}

func toUsageRecordModel(r *usage.Record) *usageRecordModel {
	return &usageRecordModel{
		ID:           r.ID.String(),
		SubjectID:    r.SubjectID,
		FeatureSlug:  r.FeatureSlug,
		CurrentUsage: r.CurrentUsage,
		UsageLimit:   r.Clone().Limit,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromUsageRecordModel(m *usageRecordModel) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(m.ID)
	if err != nil {
		return nil, err
	}

	return &usage.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:           recID,
		SubjectID:    m.SubjectID,
		FeatureSlug:  m.FeatureSlug,
		CurrentUsage: m.CurrentUsage,
		Limit:        m.UsageLimit,
	}, nil
}
