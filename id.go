package custody

import "github.com/zephyon/custody/id"

// ID is the primary identifier type for all Custody principals.
type ID = id.ID

// Prefix identifies the principal type encoded in a TypeID.
type Prefix = id.Prefix
