package prepaid

import "github.com/aquastack/prepaid/types"

// Re-export common types for convenience so users don't have to import
// the types package.

// Money is re-exported from the types package.
type Money = types.Money

// Volume is re-exported from the types package.
type Volume = types.Volume

// Entity is re-exported from the types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	GBP        = types.GBP
	ZAR        = types.ZAR
	KES        = types.KES
	INR        = types.INR
	Zero       = types.Zero
	ParseMoney = types.ParseMoney
)

// Re-export Volume constructors
var (
	Units       = types.Units
	Centiunits  = types.Centiunits
	ParseVolume = types.ParseVolume
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
