// Package event defines the structured log records Custody emits for
// external indexers.
//
// Every settlement emits exactly one event whose payload is a superset of
// its receipt, adding the platform-assigned slot and unix timestamp (and,
// for payments, the receipt's own address). Payload field names are stable;
// consumers match event names case-insensitively via Matches.
package event

import "strings"

// Stable event names.
const (
	NameDeposit      = "DepositEvent"
	NameWithdraw     = "WithdrawEvent"
	NamePay          = "PayEvent"
	NamePauseChanged = "PauseChangedEvent"
	NameTreasuryInit = "TreasuryInitializedEvent"
	NameActorJoined  = "ActorRegisteredEvent"
)

// Matches reports whether two event names refer to the same event,
// tolerating cosmetic casing differences ("PayEvent", "payevent",
// "PAYEVENT"). Payload field identity never varies across casings.
func Matches(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Deposit mirrors a settled deposit (actor → treasury).
type Deposit struct {
	Direction     string `json:"direction"`
	AssetKind     string `json:"asset_kind"`
	Amount        uint64 `json:"amount"`
	User          string `json:"user"`
	Treasury      string `json:"treasury"`
	Asset         string `json:"asset,omitempty"` // fungible settlements only
	Receipt       string `json:"receipt_address,omitempty"`
	NonceOrTx     uint64 `json:"nonce_or_tx"`
	XPDelta       uint32 `json:"xp_delta"`
	RiskFlags     uint32 `json:"risk_flags"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// Withdraw mirrors a settled withdrawal (treasury → actor).
type Withdraw struct {
	Direction     string `json:"direction"`
	AssetKind     string `json:"asset_kind"`
	Amount        uint64 `json:"amount"`
	Authority     string `json:"authority"`
	User          string `json:"user"`
	Treasury      string `json:"treasury"`
	Asset         string `json:"asset,omitempty"`
	Receipt       string `json:"receipt_address,omitempty"`
	NonceOrTx     uint64 `json:"nonce_or_tx"`
	XPDelta       uint32 `json:"xp_delta"`
	RiskFlags     uint32 `json:"risk_flags"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// Pay mirrors a settled payment (treasury → recipient). It always points
// back to its receipt.
type Pay struct {
	Direction     string `json:"direction"`
	AssetKind     string `json:"asset_kind"`
	Amount        uint64 `json:"amount"`
	Recipient     string `json:"recipient"`
	Authority     string `json:"authority"`
	Treasury      string `json:"treasury"`
	Asset         string `json:"asset,omitempty"`
	Receipt       string `json:"receipt_address"`
	PayCount      uint64 `json:"pay_count"` // pre-increment index
	HasReference  bool   `json:"has_reference"`
	Reference     string `json:"reference,omitempty"` // hex, present when HasReference
	HasMemo       bool   `json:"has_memo"`
	MemoLen       uint8  `json:"memo_len"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// PauseChanged mirrors a governance pause toggle.
type PauseChanged struct {
	Treasury      string `json:"treasury"`
	Authority     string `json:"authority"`
	Paused        bool   `json:"paused"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// TreasuryInitialized mirrors the one-time treasury bootstrap.
type TreasuryInitialized struct {
	Treasury      string `json:"treasury"`
	Authority     string `json:"authority"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// ActorRegistered mirrors an explicit actor registration.
type ActorRegistered struct {
	User          string `json:"user"`
	Profile       string `json:"profile"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}
