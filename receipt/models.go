// Package receipt defines immutable settlement receipts.
//
// A receipt is the tamper-evident audit record of exactly one settled
// transfer. Its address is derived from the settlement's owner context and
// the counter value observed before the settlement's mutating effect; the
// store's refusal to create a second record at an occupied address is the
// system's entire replay protection.
package receipt

import (
	"time"

	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/types"
)

// Direction is the canonical flow of a settled transfer.
type Direction uint8

const (
	// UserToTreasury marks a deposit.
	UserToTreasury Direction = 0
	// TreasuryToUser marks a withdrawal.
	TreasuryToUser Direction = 1
	// TreasuryToRecipient marks a payment to an arbitrary recipient.
	TreasuryToRecipient Direction = 2
)

// String returns the stable wire name of the direction.
func (d Direction) String() string {
	switch d {
	case UserToTreasury:
		return "user_to_treasury"
	case TreasuryToUser:
		return "treasury_to_user"
	case TreasuryToRecipient:
		return "treasury_to_recipient"
	default:
		return "unknown"
	}
}

// AssetKind distinguishes native-currency settlements from fungible-asset
// settlements.
type AssetKind uint8

const (
	// Native is the platform's native currency.
	Native AssetKind = 0
	// Fungible is a token-standard fungible asset.
	Fungible AssetKind = 1
)

// String returns the stable wire name of the asset kind.
func (k AssetKind) String() string {
	switch k {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	default:
		return "unknown"
	}
}

// Extension flag bits.
const (
	// FlagHasReference marks a populated 32-byte reference.
	FlagHasReference uint8 = 1 << 0
	// FlagHasMemo marks a populated memo.
	FlagHasMemo uint8 = 1 << 1
)

// MemoMax is the longest memo an extension can carry, in bytes.
const MemoMax = 64

// ReferenceLen is the fixed reference length in bytes.
const ReferenceLen = 32

// Extension is the optional receipt payload carrying a payment reference
// and a short memo. Absent fields have their flag bit cleared and their
// bytes zero-filled.
type Extension struct {
	Flags     uint8               `json:"flags"`
	Reference [ReferenceLen]byte  `json:"reference"`
	MemoLen   uint8               `json:"memo_len"`
	Memo      [MemoMax]byte       `json:"memo"`
}

// NewExtension builds an extension from an optional reference and memo.
// Returns ok=false when the memo exceeds MemoMax; the caller must reject
// the settlement before any write occurs.
func NewExtension(reference *[ReferenceLen]byte, memo []byte) (*Extension, bool) {
	if len(memo) > MemoMax {
		return nil, false
	}
	if reference == nil && len(memo) == 0 {
		return nil, true
	}

	ext := &Extension{}
	if reference != nil {
		ext.Flags |= FlagHasReference
		ext.Reference = *reference
	}
	if len(memo) > 0 {
		ext.Flags |= FlagHasMemo
		ext.MemoLen = uint8(len(memo))
		copy(ext.Memo[:], memo)
	}

	return ext, true
}

// HasReference reports whether the reference bytes are significant.
func (e *Extension) HasReference() bool {
	return e.Flags&FlagHasReference != 0
}

// HasMemo reports whether any memo bytes are significant.
func (e *Extension) HasMemo() bool {
	return e.Flags&FlagHasMemo != 0
}

// MemoBytes returns the significant memo bytes, or nil.
func (e *Extension) MemoBytes() []byte {
	if !e.HasMemo() {
		return nil
	}

	return e.Memo[:e.MemoLen]
}

// Receipt is one immutable settlement record.
type Receipt struct {
	types.Entity
	Address     addr.Address `json:"address"`
	Bump        uint8        `json:"bump"`
	Direction   Direction    `json:"direction"`
	AssetKind   AssetKind    `json:"asset_kind"`
	Amount      types.Amount `json:"amount"`
	User        id.ID        `json:"user"` // actor or pay recipient principal
	Treasury    addr.Address `json:"treasury"`
	Asset       id.ID        `json:"asset,omitzero"` // Nil for native settlements
	SeedCounter uint64       `json:"seed_counter"`
	PreBalance  types.Amount `json:"pre_balance"`
	PostBalance types.Amount `json:"post_balance"`
	Timestamp   time.Time    `json:"timestamp"`
	Slot        uint64       `json:"slot"`
	Ext         *Extension   `json:"ext,omitempty"`
}

// Kind returns the asset kind implied by the receipt's asset reference.
func KindOf(asset id.ID) AssetKind {
	if asset.IsNil() {
		return Native
	}

	return Fungible
}

// ListOpts filters receipt listings for indexer consumers.
type ListOpts struct {
	User      id.ID      // filter by counterparty principal, if set
	Direction *Direction // filter by direction, if set
	Limit     int
	Offset    int
}
