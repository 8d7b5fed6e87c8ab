package guard

import (
	"context"

	"github.com/xraph/guard/policy"
)

type orgIDKey struct{}

// WithOrgID attaches the organization a subject belongs to. Resolvers see
// it as policy.Subject.OrgID.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// OrgIDFromContext returns the organization set by WithOrgID.
func OrgIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey{}).(string)
	return v
}

func subjectFrom(ctx context.Context, subjectID string) policy.Subject {
	return policy.Subject{ID: subjectID, OrgID: OrgIDFromContext(ctx)}
}
