package scoring

import (
	"fmt"
	"math"
)

// Contribution weights for blending dimension scores into the overall score.
// They must sum to exactly 1.0; NewService refuses to start otherwise.
const (
	compositionWeightEthics      = 0.30
	compositionWeightCredibility = 0.25
	compositionWeightDelivery    = 0.20
	compositionWeightSecurity    = 0.15
	compositionWeightInnovation  = 0.10

	// promiseBlendShare tempers voter-perceived delivery with objectively
	// tracked promise outcomes.
	promiseBlendShare = 0.3

	// Neutral defaults: absence of signal is "unknown", represented as the
	// midpoint rather than zero or a fault.
	neutralScore = 5.0
	neutralRatio = 0.5

	weightSumTolerance = 1e-9
)

func validateCompositionWeights() error {
	total := compositionWeightEthics +
		compositionWeightCredibility +
		compositionWeightDelivery +
		compositionWeightSecurity +
		compositionWeightInnovation
	if math.Abs(total-1.0) > weightSumTolerance {
		return fmt.Errorf("scoring: composition weights sum to %v, want 1.0", total)
	}
	return nil
}

// WeightedVote pairs a vote's raw score with its computed influence.
type WeightedVote struct {
	Score  int
	Weight float64
}

// AggregateDimension computes the weighted average score for one
// (company, dimension) pair, rounded to one decimal. Zero total weight yields
// the neutral default.
func AggregateDimension(votes []WeightedVote) float64 {
	var weightedSum, weightTotal float64
	for _, vote := range votes {
		weightedSum += float64(vote.Score) * vote.Weight
		weightTotal += vote.Weight
	}
	if weightTotal == 0 {
		return neutralScore
	}
	return round1(weightedSum / weightTotal)
}

// PromiseRatio returns the kept fraction of a company's resolved promises.
// A promise counts as kept when its status is kept or the community verdict
// says kept. Zero resolved promises yield the neutral default.
func PromiseRatio(promises []Promise) float64 {
	var resolved, kept int
	for _, promise := range promises {
		if promise.Status == PromiseStatusPending {
			continue
		}
		resolved++
		if promise.Status == PromiseStatusKept {
			kept++
			continue
		}
		if promise.CommunityVerdict != nil && *promise.CommunityVerdict == PromiseVerdictKept {
			kept++
		}
	}
	if resolved == 0 {
		return neutralRatio
	}
	return float64(kept) / float64(resolved)
}

// DimensionScores holds the five per-axis aggregates feeding the compositor.
type DimensionScores struct {
	Ethics      float64
	Credibility float64
	Delivery    float64
	Security    float64
	Innovation  float64
}

// AdjustDelivery blends the voter-perceived delivery score with the tracked
// promise ratio, rounded to one decimal.
func AdjustDelivery(deliveryRaw, promiseRatio float64) float64 {
	return round1(deliveryRaw*(1-promiseBlendShare) + promiseRatio*10*promiseBlendShare)
}

// OverallScore blends the dimension scores (delivery already adjusted) into
// the single composite score, rounded to one decimal.
func OverallScore(dimensions DimensionScores) float64 {
	return round1(dimensions.Ethics*compositionWeightEthics +
		dimensions.Credibility*compositionWeightCredibility +
		dimensions.Delivery*compositionWeightDelivery +
		dimensions.Security*compositionWeightSecurity +
		dimensions.Innovation*compositionWeightInnovation)
}

// ClassifyConfidence derives the evidence-strength label from vote volume.
// The label is advisory metadata; it never blocks writing the aggregate.
func ClassifyConfidence(totalVotes, expertVotes int64) ConfidenceLevel {
	switch {
	case totalVotes >= 50 && expertVotes >= 3:
		return ConfidenceVeryHigh
	case totalVotes >= 30 && expertVotes >= 2:
		return ConfidenceHigh
	case totalVotes >= 15 || expertVotes >= 1:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
