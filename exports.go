package guard

import (
	"github.com/xraph/guard/limit"
	"github.com/xraph/guard/types"
	"github.com/xraph/guard/usage"
)

// Re-export common types so callers of the Guard API rarely need the
// subpackages.

// Entity is re-exported from types package.
type Entity = types.Entity

// UsageRecord is re-exported from usage package.
type UsageRecord = usage.Record

// Limit is re-exported from limit package.
type Limit = limit.Limit

// Evaluation is re-exported from limit package.
type Evaluation = limit.Evaluation

// Re-export limit constructors
var (
	Unlimited = limit.Unlimited
	LimitOf   = limit.Of
)
