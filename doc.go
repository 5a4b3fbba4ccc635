// Package prepaid provides a composable prepaid utility billing engine
// for Go applications.
//
// Prepaid is designed as a library, not a service. Import it directly
// into your Go application. It provides:
//
//   - Time-bounded rate schedules per property category, with an
//     atomic activate-and-close-previous swap
//   - Payment-to-volume conversion with minimum and fixed charges and
//     exact two-decimal integer arithmetic
//   - Single-use, expiring prepaid tokens with idempotent issuance
//   - An atomic balance ledger: exactly-once token redemption and
//     never-negative consumption debits
//   - Meter reading recording with monotonicity enforcement and
//     durable audit rows even when billing cannot be applied
//   - Pluggable hooks for low-balance alerting, metrics, and audit
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/aquastack/prepaid"
//	    "github.com/aquastack/prepaid/store/memory"
//	)
//
//	ledger := prepaid.New(memory.New())
//	if err := ledger.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ledger.Stop()
//
// # Core Flow
//
// Activate a rate schedule, then let a confirmed payment travel the
// whole pipeline:
//
//	ledger.ActivateSchedule(ctx, &rate.Schedule{
//	    Category:      rate.CategoryCommercial,
//	    UnitPrice:     prepaid.USD(250),  // $2.50 per kL
//	    FixedCharge:   prepaid.USD(2000), // $20.00
//	    MinimumCharge: prepaid.USD(3000), // $30.00
//	})
//
//	// Payment confirmed -> token issued (idempotent per payment)
//	tok, err := ledger.IssueToken(ctx, pay)
//
//	// Customer redeems at the meter -> balance credited exactly once
//	res, err := ledger.Redeem(ctx, tok.Code)
//
//	// Meter reading arrives -> consumption debited
//	rd, err := ledger.RecordReading(ctx, prepaid.RecordReadingInput{
//	    PropertyID: propID,
//	    Reading:    prepaid.Units(10),
//	})
//
// All monetary and volumetric calculations use integer arithmetic to
// avoid floating-point precision issues: Money counts smallest currency
// units, Volume counts hundredths of a kilolitre.
//
// # Stores
//
// Four store backends ship with the module: memory (tests/demos),
// sqlite, postgres, and mongo. Each implements the conditional atomic
// operations the ledger's concurrency contract requires; choose with
// the matching constructor and pass it to New.
package prepaid
