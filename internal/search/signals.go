package search

import (
	"math"
	"time"

	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// Composite score weights. They sum to 1; the raw composite is never
// exposed, only the bucketed rank_signals.
const (
	weightPopularity   = 0.3
	weightRelevance    = 0.3
	weightFreshness    = 0.2
	weightAvailability = 0.1
	weightOnchain      = 0.1
)

// Signal saturation points: beyond these the log curves flatten out.
const (
	usageSaturation       = 10.0
	replicationSaturation = 10.0

	usageWindow       = 7 * 24 * time.Hour
	replicationWindow = 30 * 24 * time.Hour
	freshnessHalfLife = 30 * 24 * time.Hour
)

// Availability downweights.
const (
	availNonPinlsFactor = 0.9
	availErrorFactor    = 0.7
	availWalletBase     = 0.6
	availWalletSpan     = 0.4
)

// signalSet carries the per-hit component scores before compositing.
type signalSet struct {
	popularity   float64
	relevance    float64
	freshness    float64
	availability float64
	onchain      linkState
}

// composite folds the components into the sort key.
func (s signalSet) composite() float64 {
	onchain := 0.0
	if s.onchain == linkLinked {
		onchain = 1
	}
	return weightPopularity*s.popularity +
		weightRelevance*s.relevance +
		weightFreshness*s.freshness +
		weightAvailability*s.availability +
		weightOnchain*onchain
}

// popularityScore blends recent distinct viewers with replication breadth.
// Both curves saturate so one whale CID cannot dominate the axis.
func popularityScore(okWallets7d, replicas30d int) float64 {
	usage := math.Log1p(math.Min(float64(okWallets7d), usageSaturation)) / math.Log1p(usageSaturation)
	replication := math.Log1p(math.Min(float64(replicas30d), replicationSaturation)) / math.Log1p(replicationSaturation)
	return clamp01(0.6*usage + 0.4*replication)
}

// freshnessScore decays exponentially with content age; 30 days is one
// time constant.
func freshnessScore(activityMs, nowMs int64) float64 {
	if activityMs <= 0 || activityMs > nowMs {
		return 0
	}
	age := time.Duration(nowMs-activityMs) * time.Millisecond
	return math.Exp(-float64(age) / float64(freshnessHalfLife))
}

// availabilityScore starts at 1 for present content and is shaved down by
// weaker presence evidence, index errors, and wallet-scoped failure rates.
func availabilityScore(doc *models.IndexDoc) float64 {
	if !doc.Present {
		return 0
	}
	score := 1.0
	if doc.PresentSource != "" && doc.PresentSource != "pinls" {
		score *= availNonPinlsFactor
	}
	if doc.IndexError != "" {
		score *= availErrorFactor
	}
	if doc.TotalWallets > 0 {
		ratio := float64(doc.OkWallets) / float64(doc.TotalWallets)
		score *= availWalletBase + availWalletSpan*ratio
	}
	return clamp01(score)
}

// bucket maps a [0,1] component to the low/medium/high label clients see.
func bucket(v float64) string {
	switch {
	case v >= 0.66:
		return "high"
	case v >= 0.33:
		return "medium"
	default:
		return "low"
	}
}

// rankSignals renders the bucketed view of a signal set.
func rankSignals(s signalSet) models.RankSignals {
	return models.RankSignals{
		Popularity:   bucket(s.popularity),
		Relevance:    bucket(s.relevance),
		Freshness:    bucket(s.freshness),
		Availability: bucket(s.availability),
		Onchain:      s.onchain.String(),
	}
}
