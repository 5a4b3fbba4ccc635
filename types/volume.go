package types

import (
	"encoding/json"
	"fmt"
)

// Volume represents a quantity of water in hundredths of a kilolitre.
// Like Money, all arithmetic is integer-only: a balance of 32.00 kL is
// stored as 3200 centiunits, so the two-decimal precision of the billing
// rules is exact rather than approximated with floats.
type Volume int64

// Units creates a Volume from whole kilolitres.
func Units(kl int64) Volume { return Volume(kl * 100) }

// Centiunits creates a Volume from hundredths of a kilolitre.
func Centiunits(c int64) Volume { return Volume(c) }

// ParseVolume parses a major-unit decimal string ("32", "32.5", "32.00")
// with at most two decimal places into a Volume.
func ParseVolume(s string) (Volume, error) {
	c, err := parseMinorUnits(s)
	if err != nil {
		return 0, fmt.Errorf("volume: parse %q: %w", s, err)
	}
	return Volume(c), nil
}

// Add returns the sum of two volumes.
func (v Volume) Add(other Volume) Volume { return v + other }

// Subtract returns the difference of two volumes.
func (v Volume) Subtract(other Volume) Volume { return v - other }

// Centi returns the raw centiunit count for storage.
func (v Volume) Centi() int64 { return int64(v) }

// IsZero returns true if the volume is zero.
func (v Volume) IsZero() bool { return v == 0 }

// IsPositive returns true if the volume is greater than zero.
func (v Volume) IsPositive() bool { return v > 0 }

// IsNegative returns true if the volume is less than zero.
func (v Volume) IsNegative() bool { return v < 0 }

// LessThan returns true if this volume is less than other.
func (v Volume) LessThan(other Volume) bool { return v < other }

// Format returns the major-unit string with two decimal places: "32.00".
func (v Volume) Format() string {
	neg := v < 0
	c := int64(v)
	if neg {
		c = -c
	}
	s := fmt.Sprintf("%d.%02d", c/100, c%100)
	if neg {
		return "-" + s
	}
	return s
}

// String returns a human-readable string with the unit suffix: "32.00 kL".
func (v Volume) String() string { return v.Format() + " kL" }

// MarshalJSON implements json.Marshaler.
func (v Volume) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Centiunits int64  `json:"centiunits"`
		Display    string `json:"display"`
	}{
		Centiunits: int64(v),
		Display:    v.Format(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. It accepts either the
// object form produced by MarshalJSON or a bare decimal string.
func (v *Volume) UnmarshalJSON(data []byte) error {
	var obj struct {
		Centiunits *int64 `json:"centiunits"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Centiunits != nil {
		*v = Volume(*obj.Centiunits)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("volume: unmarshal %s: expected object or string", data)
	}
	parsed, err := ParseVolume(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
