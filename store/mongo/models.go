package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// ==================== Treasury model ====================

type treasuryModel struct {
	grove.BaseModel `grove:"table:custody_treasury"`

	Address   string    `grove:"address,pk"   bson:"_id"`
	Authority string    `grove:"authority"    bson:"authority"`
	Paused    bool      `grove:"paused"       bson:"paused"`
	PayCount  uint64    `grove:"pay_count"    bson:"pay_count"`
	Bump      uint8     `grove:"bump"         bson:"bump"`
	CreatedAt time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toTreasuryModel(t *vault.Treasury) *treasuryModel {
	return &treasuryModel{
		Address:   t.Address.String(),
		Authority: t.Authority.String(),
		Paused:    t.Paused,
		PayCount:  t.PayCount,
		Bump:      t.Bump,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTreasuryModel(m *treasuryModel) (*vault.Treasury, error) {
	address, err := addr.Parse(m.Address)
	if err != nil {
		return nil, err
	}
	authority, err := id.Parse(m.Authority)
	if err != nil {
		return nil, err
	}

	return &vault.Treasury{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Address:   address,
		Authority: authority,
		Paused:    m.Paused,
		PayCount:  m.PayCount,
		Bump:      m.Bump,
	}, nil
}

// ==================== Balance model ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:custody_balances"`

	Address   string    `grove:"address,pk" bson:"_id"`
	Owner     string    `grove:"owner"      bson:"owner"`
	Asset     string    `grove:"asset"      bson:"asset"`
	Amount    uint64    `grove:"amount"     bson:"amount"`
	Bump      uint8     `grove:"bump"       bson:"bump"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toBalanceModel(b *vault.Balance) *balanceModel {
	m := &balanceModel{
		Address:   b.Address.String(),
		Owner:     b.Owner,
		Amount:    b.Amount.Uint64(),
		Bump:      b.Bump,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if !b.Asset.IsNil() {
		m.Asset = b.Asset.String()
	}
	return m
}

func fromBalanceModel(m *balanceModel) (*vault.Balance, error) {
	address, err := addr.Parse(m.Address)
	if err != nil {
		return nil, err
	}

	var asset id.ID
	if m.Asset != "" {
		asset, err = id.Parse(m.Asset)
		if err != nil {
			return nil, err
		}
	}

	return &vault.Balance{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Address: address,
		Owner:   m.Owner,
		Asset:   asset,
		Amount:  types.Amount(m.Amount),
		Bump:    m.Bump,
	}, nil
}

// ==================== Actor model ====================

type actorModel struct {
	grove.BaseModel `grove:"table:custody_actors"`

	Authority      string    `grove:"authority,pk"     bson:"_id"`
	Address        string    `grove:"address"          bson:"address"`
	JoinedAt       time.Time `grove:"joined_at"        bson:"joined_at"`
	TxCount        uint64    `grove:"tx_count"         bson:"tx_count"`
	DepositCount   uint64    `grove:"deposit_count"    bson:"deposit_count"`
	WithdrawCount  uint64    `grove:"withdraw_count"   bson:"withdraw_count"`
	TotalDeposited uint64    `grove:"total_deposited"  bson:"total_deposited"`
	TotalWithdrawn uint64    `grove:"total_withdrawn"  bson:"total_withdrawn"`
	LastDepositAt  time.Time `grove:"last_deposit_at"  bson:"last_deposit_at,omitempty"`
	LastWithdrawAt time.Time `grove:"last_withdraw_at" bson:"last_withdraw_at,omitempty"`
	RiskScore      uint8     `grove:"risk_score"       bson:"risk_score"`
	Flags          uint8     `grove:"flags"            bson:"flags"`
	Bump           uint8     `grove:"bump"             bson:"bump"`
	CreatedAt      time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"       bson:"updated_at"`
}

func toActorModel(p *actor.Profile) *actorModel {
	return &actorModel{
		Authority:      p.Authority.String(),
		Address:        p.Address.String(),
		JoinedAt:       p.JoinedAt,
		TxCount:        p.TxCount,
		DepositCount:   p.DepositCount,
		WithdrawCount:  p.WithdrawCount,
		TotalDeposited: p.TotalDeposited.Uint64(),
		TotalWithdrawn: p.TotalWithdrawn.Uint64(),
		LastDepositAt:  p.LastDepositAt,
		LastWithdrawAt: p.LastWithdrawAt,
		RiskScore:      p.RiskScore,
		Flags:          p.Flags,
		Bump:           p.Bump,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromActorModel(m *actorModel) (*actor.Profile, error) {
	authority, err := id.Parse(m.Authority)
	if err != nil {
		return nil, err
	}
	address, err := addr.Parse(m.Address)
	if err != nil {
		return nil, err
	}

	return &actor.Profile{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Address:        address,
		Authority:      authority,
		JoinedAt:       m.JoinedAt,
		TxCount:        m.TxCount,
		DepositCount:   m.DepositCount,
		WithdrawCount:  m.WithdrawCount,
		TotalDeposited: types.Amount(m.TotalDeposited),
		TotalWithdrawn: types.Amount(m.TotalWithdrawn),
		LastDepositAt:  m.LastDepositAt,
		LastWithdrawAt: m.LastWithdrawAt,
		RiskScore:      m.RiskScore,
		Flags:          m.Flags,
		Bump:           m.Bump,
	}, nil
}

// ==================== Receipt model ====================

// receiptModel stores the receipt's canonical binary payload alongside the
// fields the listing queries filter and order on.
type receiptModel struct {
	grove.BaseModel `grove:"table:custody_receipts"`

	Address     string    `grove:"address,pk"   bson:"_id"`
	UserID      string    `grove:"user_id"      bson:"user_id"`
	Treasury    string    `grove:"treasury"     bson:"treasury"`
	Asset       string    `grove:"asset"        bson:"asset"`
	Direction   uint8     `grove:"direction"    bson:"direction"`
	SeedCounter uint64    `grove:"seed_counter" bson:"seed_counter"`
	PreBalance  uint64    `grove:"pre_balance"  bson:"pre_balance"`
	PostBalance uint64    `grove:"post_balance" bson:"post_balance"`
	Slot        uint64    `grove:"slot"         bson:"slot"`
	Bump        uint8     `grove:"bump"         bson:"bump"`
	Payload     []byte    `grove:"payload"      bson:"payload"`
	Timestamp   time.Time `grove:"timestamp"    bson:"timestamp"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toReceiptModel(r *receipt.Receipt) (*receiptModel, error) {
	payload, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}

	m := &receiptModel{
		Address:     r.Address.String(),
		UserID:      r.User.String(),
		Treasury:    r.Treasury.String(),
		Direction:   uint8(r.Direction),
		SeedCounter: r.SeedCounter,
		PreBalance:  r.PreBalance.Uint64(),
		PostBalance: r.PostBalance.Uint64(),
		Slot:        r.Slot,
		Bump:        r.Bump,
		Payload:     payload,
		Timestamp:   r.Timestamp,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if !r.Asset.IsNil() {
		m.Asset = r.Asset.String()
	}
	return m, nil
}

func fromReceiptModel(m *receiptModel) (*receipt.Receipt, error) {
	r := new(receipt.Receipt)
	if err := r.UnmarshalBinary(m.Payload); err != nil {
		return nil, err
	}

	address, err := addr.Parse(m.Address)
	if err != nil {
		return nil, err
	}
	user, err := id.Parse(m.UserID)
	if err != nil {
		return nil, err
	}
	treasury, err := addr.Parse(m.Treasury)
	if err != nil {
		return nil, err
	}
	if m.Asset != "" {
		r.Asset, err = id.Parse(m.Asset)
		if err != nil {
			return nil, err
		}
	}

	r.Entity = types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
	r.Address = address
	r.User = user
	r.Treasury = treasury
	r.PreBalance = types.Amount(m.PreBalance)
	r.PostBalance = types.Amount(m.PostBalance)
	r.Slot = m.Slot
	r.Bump = m.Bump
	r.Timestamp = m.Timestamp

	return r, nil
}

// ==================== Slot model ====================

// slotModel is the single-document monotonic commit counter.
type slotModel struct {
	grove.BaseModel `grove:"table:custody_slots"`

	ID   int    `grove:"id,pk" bson:"_id"`
	Slot uint64 `grove:"slot"  bson:"slot"`
}
