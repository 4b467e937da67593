package models

import "fmt"

// Quality is a media quality level.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualitySuper    Quality = "super"
)

// Qualities lists every level from lowest to highest.
var Qualities = []Quality{QualityLow, QualityStandard, QualityHigh, QualitySuper}

// QualityFallback decides which levels are tried when the preferred one is unavailable.
type QualityFallback string

const (
	FallbackLower  QualityFallback = "lower"  // Try lower levels first, then higher ones
	FallbackHigher QualityFallback = "higher" // Try higher levels first, then lower ones
	FallbackSkip   QualityFallback = "skip"   // Only try the preferred level
)

// ParseQuality validates a quality name.
func ParseQuality(s string) (Quality, error) {
	for _, q := range Qualities {
		if string(q) == s {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// QualityOrder returns the ordered list of qualities to try, starting with primary.
//
// With [FallbackHigher] the list continues upward and then falls back to lower levels from nearest to farthest.
// With [FallbackLower] it goes downward first and then upward. An unknown primary yields
// [QualityStandard] as the starting point.
func QualityOrder(primary Quality, fallback QualityFallback) []Quality {
	idx := -1
	for i, q := range Qualities {
		if q == primary {
			idx = i
			break
		}
	}
	if idx < 0 {
		primary = QualityStandard
		idx = 1
	}

	order := []Quality{primary}
	if fallback == FallbackSkip {
		return order
	}

	var lower, higher []Quality
	for i := idx - 1; i >= 0; i-- {
		lower = append(lower, Qualities[i])
	}
	for i := idx + 1; i < len(Qualities); i++ {
		higher = append(higher, Qualities[i])
	}

	if fallback == FallbackHigher {
		order = append(order, higher...)
		return append(order, lower...)
	}
	order = append(order, lower...)
	return append(order, higher...)
}
