package guard

import "github.com/xraph/guard/id"

// ID is the primary identifier type for all Guard entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
