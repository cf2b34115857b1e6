/*
policy.go - Cancellation/modification fee resolution

PURPOSE:
  Resolves exactly one fee from a set of time-windowed policies, given the
  hours remaining until departure. Policies are keyed by category
  (cancellation, modification, no-show, route change), carry an optional
  hour trigger and a comparison condition, and may overlap.

RESOLUTION ALGORITHM (must stay deterministic):
  1. Filter to the requested category.
  2. Sort ascending by trigger; policies without a trigger sort last.
  3. Scan in order. A policy matches when:
       LESS_THAN (the default): hoursRemaining <  trigger
       GREATER_THAN:            hoursRemaining >= trigger
  4. A LESS_THAN match wins immediately and stops the scan - the smallest,
     strictest window applies when departure is close.
  5. GREATER_THAN matches do NOT stop the scan; a later, larger trigger
     that still matches overwrites the fee - the most generous
     longest-advance-notice policy applies when booking far out.
  6. If nothing matched and a triggerless policy exists, it is the default.
  7. Otherwise: fee 0, policy name "default".

  The asymmetric tie-break between the two conditions is intentional and
  load-bearing; see policy_test.go for the fixed vectors.
*/
package pricing

import (
	"sort"
	"time"
)

// =============================================================================
// FEE POLICY - Time-windowed penalty rule
// =============================================================================

type PolicyCategory string

const (
	FeeCancellation PolicyCategory = "cancellation"
	FeeModification PolicyCategory = "modification"
	FeeNoShow       PolicyCategory = "no_show"
	FeeRouteChange  PolicyCategory = "route_change"
)

type FeeCondition string

const (
	CondLessThan    FeeCondition = "less_than"
	CondGreaterThan FeeCondition = "greater_than"
)

type FeePolicy struct {
	ID       string
	Name     string
	Category PolicyCategory

	// HoursTrigger is the window boundary in hours before departure.
	// Nil marks a default policy that applies when nothing else matches.
	HoursTrigger *float64

	// Condition compares hoursRemaining against the trigger.
	// Empty is treated as CondLessThan.
	Condition FeeCondition

	Fee Money
}

// FeeResolution is the outcome of resolving policies for one event.
type FeeResolution struct {
	Fee        Money
	PolicyName string
	Matched    bool
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolveFee picks exactly one fee for the event. hoursRemaining may be
// negative when the departure has already passed.
func ResolveFee(policies []FeePolicy, category PolicyCategory, hoursRemaining float64) FeeResolution {
	scoped := make([]FeePolicy, 0, len(policies))
	for _, p := range policies {
		if p.Category == category {
			scoped = append(scoped, p)
		}
	}

	// Ascending by trigger, triggerless last. Stable so equal triggers keep
	// their configured order.
	sort.SliceStable(scoped, func(i, j int) bool {
		ti, tj := scoped[i].HoursTrigger, scoped[j].HoursTrigger
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return *ti < *tj
	})

	result := FeeResolution{Fee: ZeroMoney(), PolicyName: "default"}
	var fallback *FeePolicy

	for i := range scoped {
		p := scoped[i]
		if p.HoursTrigger == nil {
			if fallback == nil {
				fallback = &scoped[i]
			}
			continue
		}

		cond := p.Condition
		if cond == "" {
			cond = CondLessThan
		}

		switch cond {
		case CondLessThan:
			if hoursRemaining < *p.HoursTrigger {
				// First LESS_THAN match wins and ends the scan.
				return FeeResolution{Fee: p.Fee, PolicyName: p.Name, Matched: true}
			}
		case CondGreaterThan:
			if hoursRemaining >= *p.HoursTrigger {
				// Keep scanning; a larger trigger that matches overwrites.
				result = FeeResolution{Fee: p.Fee, PolicyName: p.Name, Matched: true}
			}
		}
	}

	if !result.Matched && fallback != nil {
		return FeeResolution{Fee: fallback.Fee, PolicyName: fallback.Name, Matched: true}
	}
	return result
}

// HoursUntil returns the (possibly negative) hours between now and the
// departure instant.
func HoursUntil(departure, now time.Time) float64 {
	return departure.Sub(now).Hours()
}
