// Package property defines the metered property model.
package property

import (
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/rate"
	"github.com/aquastack/prepaid/types"
)

// Property is a metered connection with a prepaid balance.
//
// CurrentBalance never goes negative and TotalConsumption never
// decreases; both are mutated only through the ledger's atomic credit
// and debit operations.
type Property struct {
	types.Entity
	ID                  id.PropertyID `json:"id"`
	MeterNumber         string        `json:"meter_number"`
	Category            rate.Category `json:"category"`
	CurrentBalance      types.Volume  `json:"current_balance"`
	TotalConsumption    types.Volume  `json:"total_consumption"`
	LastTokenRedemption *time.Time    `json:"last_token_redemption,omitempty"`
	Address             string        `json:"address,omitempty"`
}
