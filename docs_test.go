package custody_test

import (
	"context"
	"log/slog"
	"testing"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/store/memory"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and run.
func TestDocumentationExamples(t *testing.T) {
	// Quick Start example from the package doc
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		st := memory.New()

		eng := custody.New(st,
			custody.WithLogger(slog.Default()),
		)

		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		// Initialize the treasury once
		authority := id.NewActorID()
		treasury, err := eng.InitializeTreasury(ctx, authority)
		if err != nil {
			t.Fatal(err)
		}
		if treasury.Paused {
			t.Fatal("fresh treasury should be operational")
		}

		// Fund an actor's container out of band, then deposit
		alice := id.NewActorID()
		if err := eng.FundActorBalance(ctx, alice, id.Nil, 1000); err != nil {
			t.Fatal(err)
		}

		res, err := eng.Deposit(ctx, custody.DepositParams{
			Actor:       alice,
			Amount:      1000,
			WithReceipt: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Receipt == nil {
			t.Fatal("expected a receipt")
		}

		// Treasury custody now holds the deposit
		held, err := eng.TreasuryBalance(ctx, id.Nil)
		if err != nil {
			t.Fatal(err)
		}
		if held != 1000 {
			t.Fatalf("treasury balance = %d, want 1000", held)
		}
	})
}
