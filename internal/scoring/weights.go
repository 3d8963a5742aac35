package scoring

import "time"

// Reputation tiers are a step function rather than a continuous curve so that
// weights stay predictable and explainable to users who dispute a score.
const (
	reputationTierTop    = 1000
	reputationTierHigh   = 500
	reputationTierMid    = 100
	expertWeightBonus    = 2.0
	recencyFloorMultiple = 0.4
)

// VoteWeightInput carries the vote metadata that determines its influence.
type VoteWeightInput struct {
	Reputation    int64
	IsExpert      bool
	CastAtSeconds int64
	EvaluatedAt   time.Time
}

// VoteWeight converts a single vote's metadata into a positive scalar weight:
// the product of the voter's reputation multiplier, expert multiplier, and the
// vote's recency multiplier. A missing profile contributes the lowest weight,
// never zero.
func VoteWeight(input VoteWeightInput) float64 {
	return reputationMultiplier(input.Reputation) *
		expertMultiplier(input.IsExpert) *
		recencyMultiplier(input.CastAtSeconds, input.EvaluatedAt)
}

func reputationMultiplier(reputation int64) float64 {
	switch {
	case reputation >= reputationTierTop:
		return 2.0
	case reputation >= reputationTierHigh:
		return 1.8
	case reputation >= reputationTierMid:
		return 1.3
	default:
		return 1.0
	}
}

func expertMultiplier(isExpert bool) float64 {
	if isExpert {
		return expertWeightBonus
	}
	return 1.0
}

// recencyMultiplier decays a vote's influence by whole days of age. Votes
// never expire outright; they settle at the floor so old sentiment still
// counts but cannot dominate.
func recencyMultiplier(castAtSeconds int64, evaluatedAt time.Time) float64 {
	ageDays := int64(evaluatedAt.Sub(time.Unix(castAtSeconds, 0)).Hours() / 24)
	switch {
	case ageDays <= 30:
		return 1.0
	case ageDays <= 90:
		return 0.8
	case ageDays <= 180:
		return 0.6
	default:
		return recencyFloorMultiple
	}
}
