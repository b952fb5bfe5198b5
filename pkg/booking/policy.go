package booking

import "sort"

const fullRefundPercent = 100

// EvaluateRefund selects the applicable rule for a cancellation happening
// daysUntilCheckin days before check-in (negative once check-in has
// passed) and returns the refund percentage plus the rule that supplied
// it.
//
// Absence of a policy deliberately fails open to a full refund — the
// portal advertises "full refund available" when no schedule is
// configured. With a policy, the rule with the largest threshold not
// exceeding daysUntilCheckin wins; below every threshold the most
// restrictive (smallest-threshold) rule applies.
func EvaluateRefund(policy *RefundPolicy, daysUntilCheckin int) (int, *RefundRule) {
	if policy == nil || len(policy.Rules) == 0 {
		return fullRefundPercent, nil
	}

	rules := make([]RefundRule, len(policy.Rules))
	copy(rules, policy.Rules)
	sort.Slice(rules, func(left, right int) bool {
		return rules[left].DaysBeforeCheckin < rules[right].DaysBeforeCheckin
	})

	selected := rules[0]
	for _, rule := range rules {
		if rule.DaysBeforeCheckin > daysUntilCheckin {
			break
		}
		selected = rule
	}
	return clampPercent(selected.Percent), &selected
}

// ForfeiturePercent is the share of the total kept by the club.
func ForfeiturePercent(refundPercent int) int {
	return fullRefundPercent - clampPercent(refundPercent)
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > fullRefundPercent {
		return fullRefundPercent
	}
	return percent
}
