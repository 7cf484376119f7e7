package search

import (
	"math"
	"strings"

	"github.com/lumen-network/lumen-gateway/internal/cidutil"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// Relevance scoring constants. Raw scores are open-ended; relevanceDamping
// squashes them into [0, 1).
const (
	termHitWeight     = 10.0
	topicHitScore     = 100.0
	kindInTokensScore = 200.0
	cidTokenScore     = 1000.0
	confidenceWeight  = 10.0
	relevanceDamping  = 120.0

	minTermLen  = 3
	minCoverage = 0.5
)

// relevance is the outcome of scoring one hit against the query tokens.
type relevance struct {
	raw float64
	// matched is true only when at least one token had an exact or partial
	// histogram hit or a topic hit; without it the hit is not a content
	// match and normalizes to zero.
	matched bool
}

// scoreRelevance computes the raw multi-part relevance of one hit. tokens
// must already be normalized; terms shorter than minTermLen never
// participate in partial matching.
func scoreRelevance(tokens []string, doc *models.IndexDoc, tags models.ParsedTags) relevance {
	var rel relevance

	for _, q := range tokens {
		best := 0.0
		exact := false
		if count, ok := tags.Tokens[q]; ok {
			best = count * termHitWeight
			exact = true
		}
		if !exact && len(q) >= minTermLen {
			// Partial: containment either way, scored by how much of the
			// query token the overlap covers. Best partial wins per token.
			for term, count := range tags.Tokens {
				if len(term) < minTermLen {
					continue
				}
				if !strings.Contains(term, q) && !strings.Contains(q, term) {
					continue
				}
				coverage := float64(min(len(q), len(term))) / float64(len(q))
				if coverage < minCoverage {
					continue
				}
				if s := count * termHitWeight * coverage; s > best {
					best = s
				}
			}
		}
		if best > 0 {
			rel.raw += best
			rel.matched = true
		}

		for _, topic := range tags.Topics {
			if topic == q {
				rel.raw += topicHitScore
				rel.matched = true
				break
			}
		}

		if q == doc.Kind && doc.Kind != "" {
			rel.raw += kindInTokensScore
		}
	}

	// A CID pasted as the whole query is as relevant as it gets.
	if len(tokens) == 1 && cidutil.LooksLikeCID(tokens[0]) {
		rel.raw += cidTokenScore
		rel.matched = true
	}

	rel.raw += confidencePoints(doc.Confidence)
	return rel
}

// confidencePoints rewards indexer confidence linearly and punishes very
// low confidence hard enough to sink the hit.
func confidencePoints(conf float64) float64 {
	if conf <= 0 {
		return 0
	}
	points := conf * confidenceWeight
	switch {
	case conf < 0.1:
		points -= 3000
	case conf < 0.2:
		points -= 2000
	case conf < 0.3:
		points -= 1000
	}
	return points
}

// normalizeRelevance maps a raw score into [0, 1). Non-matches are zero
// regardless of confidence or kind points.
func normalizeRelevance(rel relevance) float64 {
	if !rel.matched || rel.raw <= 0 {
		return 0
	}
	return clamp01(1 - math.Exp(-rel.raw/relevanceDamping))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
