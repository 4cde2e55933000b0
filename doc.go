// Package custody provides a custodial treasury ledger for Go applications.
//
// Custody is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - A singleton treasury with governance-controlled pause switch
//   - Deposit, withdrawal, and third-party payment settlement flows
//   - Tamper-evident receipts at deterministically derived addresses
//   - Exactly-once settlement via content-addressed unique inserts
//   - Structured event emission for external indexers
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    custody "github.com/zephyon/custody"
//	    "github.com/zephyon/custody/store/memory"
//	)
//
//	eng := custody.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// Initialize the treasury once, then settle:
//
//	authority := id.NewActorID()
//	treasury, err := eng.InitializeTreasury(ctx, authority)
//
//	res, err := eng.Deposit(ctx, custody.DepositParams{
//	    Actor:       alice,
//	    Amount:      1000,
//	    WithReceipt: true,
//	})
//
// # Receipts and Replay Protection
//
// Every receipt lives at an address derived deterministically from its
// owner and a counter observed before the settlement mutates anything.
// The store rejects creation at an occupied address, so a reused nonce or
// a lost race fails with ErrAddressOccupied and commits nothing. There is
// no separate used-nonce bookkeeping; the address space is the ledger's
// entire replay defense.
//
// # Atomicity
//
// A settlement's effect set (debit, credit, counter advances, receipt
// insert) commits through store.ApplySettlement as one unit. Rejected
// settlements leave zero observable trace: no balance change, no receipt,
// and no lazily provisioned container.
//
// # TypeID
//
// All principals use TypeID for globally unique, type-safe identifiers:
//
//	actor_01h2xcejqtf2nbrexx3vqjhp41  // Actor ID
//	asset_01h2xcejqtf2nbrexx3vqjhp41  // Asset ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of principals.
package custody
