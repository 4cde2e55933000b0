package custody

import (
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Address is re-exported from addr package.
type Address = addr.Address

// MaxAmount is the largest representable amount.
const MaxAmount = types.MaxAmount

// Re-export Entity constructor
var NewEntity = types.NewEntity
