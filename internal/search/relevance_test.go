package search

import (
	"math"
	"testing"

	"github.com/lumen-network/lumen-gateway/pkg/models"
)

func tagsWith(tokens map[string]float64, topics ...string) models.ParsedTags {
	return models.ParsedTags{Tokens: tokens, Topics: topics}
}

func TestScoreRelevance_ExactTermHit(t *testing.T) {
	doc := &models.IndexDoc{Kind: "doc", Confidence: 0.9}
	rel := scoreRelevance([]string{"quantum"}, doc, tagsWith(map[string]float64{"quantum": 3}))

	want := 3*termHitWeight + 0.9*confidenceWeight
	if !rel.matched {
		t.Fatalf("Expected an exact hit to count as a content match")
	}
	if math.Abs(rel.raw-want) > 1e-9 {
		t.Errorf("Expected raw %.1f. Got: %.1f", want, rel.raw)
	}
}

func TestScoreRelevance_PartialCoverage(t *testing.T) {
	doc := &models.IndexDoc{}
	// "networks" contains "network": coverage = 7/7 = 1.0 for q="network".
	rel := scoreRelevance([]string{"network"}, doc, tagsWith(map[string]float64{"networks": 2}))
	if !rel.matched {
		t.Fatalf("Expected a containment partial to match")
	}
	if math.Abs(rel.raw-2*termHitWeight) > 1e-9 {
		t.Errorf("Expected full-coverage partial 20. Got: %.1f", rel.raw)
	}

	// Coverage below 0.5 never scores: |"net"| / |"networking"| over the
	// query "networking" is 3/10.
	rel = scoreRelevance([]string{"networking"}, doc, tagsWith(map[string]float64{"net": 5}))
	if rel.matched {
		t.Errorf("Expected sub-threshold coverage to be ignored. Got raw: %.1f", rel.raw)
	}
}

func TestScoreRelevance_TopicAndKind(t *testing.T) {
	doc := &models.IndexDoc{Kind: "image"}
	rel := scoreRelevance([]string{"image", "astronomy"}, doc, tagsWith(map[string]float64{}, "astronomy"))
	if !rel.matched {
		t.Fatalf("Expected the topic hit to count as a match")
	}
	want := topicHitScore + kindInTokensScore
	if math.Abs(rel.raw-want) > 1e-9 {
		t.Errorf("Expected topic+kind raw %.0f. Got: %.1f", want, rel.raw)
	}
}

func TestScoreRelevance_CIDToken(t *testing.T) {
	doc := &models.IndexDoc{}
	cid := "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"
	rel := scoreRelevance([]string{cid}, doc, tagsWith(map[string]float64{}))
	if !rel.matched || rel.raw < cidTokenScore {
		t.Errorf("Expected the CID token bonus. Got matched=%v raw=%.1f", rel.matched, rel.raw)
	}
}

func TestConfidencePenalties(t *testing.T) {
	if p := confidencePoints(0.05); p > -2900 {
		t.Errorf("Expected the harshest penalty below 0.1. Got: %.1f", p)
	}
	if p := confidencePoints(0.15); p > -1900 || p < -2000 {
		t.Errorf("Expected -2000 band at 0.15. Got: %.1f", p)
	}
	if p := confidencePoints(0.25); p > -900 || p < -1000 {
		t.Errorf("Expected -1000 band at 0.25. Got: %.1f", p)
	}
	if p := confidencePoints(0.8); p <= 0 {
		t.Errorf("Expected positive points at 0.8. Got: %.1f", p)
	}
}

func TestNormalizeRelevance(t *testing.T) {
	if v := normalizeRelevance(relevance{raw: 500, matched: false}); v != 0 {
		t.Errorf("Expected non-matches to normalize to 0. Got: %f", v)
	}
	if v := normalizeRelevance(relevance{raw: -10, matched: true}); v != 0 {
		t.Errorf("Expected negative raw to normalize to 0. Got: %f", v)
	}
	low := normalizeRelevance(relevance{raw: 20, matched: true})
	high := normalizeRelevance(relevance{raw: 600, matched: true})
	if !(0 < low && low < high && high < 1) {
		t.Errorf("Expected monotone normalization in (0,1). Got: %f, %f", low, high)
	}
}

func TestSignalScores(t *testing.T) {
	if p := popularityScore(0, 0); p != 0 {
		t.Errorf("Expected zero popularity for unseen content. Got: %f", p)
	}
	if p := popularityScore(10, 10); math.Abs(p-1) > 1e-9 {
		t.Errorf("Expected saturation at 1. Got: %f", p)
	}
	if p := popularityScore(100, 100); math.Abs(p-1) > 1e-9 {
		t.Errorf("Expected the curve to cap beyond saturation. Got: %f", p)
	}

	now := int64(1_700_000_000_000)
	if f := freshnessScore(now, now); math.Abs(f-1) > 1e-9 {
		t.Errorf("Expected freshness 1 for brand new content. Got: %f", f)
	}
	month := freshnessScore(now-30*24*3600*1000, now)
	if math.Abs(month-math.Exp(-1)) > 1e-6 {
		t.Errorf("Expected e^-1 at one time constant. Got: %f", month)
	}
	if f := freshnessScore(0, now); f != 0 {
		t.Errorf("Expected zero freshness without a timestamp. Got: %f", f)
	}
}

func TestAvailabilityScore(t *testing.T) {
	if a := availabilityScore(&models.IndexDoc{Present: false}); a != 0 {
		t.Errorf("Expected absent content to score 0. Got: %f", a)
	}
	if a := availabilityScore(&models.IndexDoc{Present: true, PresentSource: "pinls"}); a != 1 {
		t.Errorf("Expected authoritative presence to score 1. Got: %f", a)
	}
	if a := availabilityScore(&models.IndexDoc{Present: true, PresentSource: "gateway"}); math.Abs(a-0.9) > 1e-9 {
		t.Errorf("Expected non-pinls downweight 0.9. Got: %f", a)
	}
	if a := availabilityScore(&models.IndexDoc{Present: true, PresentSource: "pinls", IndexError: "bad"}); math.Abs(a-0.7) > 1e-9 {
		t.Errorf("Expected error downweight 0.7. Got: %f", a)
	}
	a := availabilityScore(&models.IndexDoc{Present: true, PresentSource: "pinls", OkWallets: 1, TotalWallets: 2})
	if math.Abs(a-0.8) > 1e-9 {
		t.Errorf("Expected wallet-scoped 0.6+0.4*0.5. Got: %f", a)
	}
}

func TestBucket(t *testing.T) {
	if b := bucket(0.1); b != "low" {
		t.Errorf("Expected low. Got: %s", b)
	}
	if b := bucket(0.5); b != "medium" {
		t.Errorf("Expected medium. Got: %s", b)
	}
	if b := bucket(0.9); b != "high" {
		t.Errorf("Expected high. Got: %s", b)
	}
}

func TestSuppress_PDFXrefFragment(t *testing.T) {
	doc := &models.IndexDoc{Kind: "text", Mime: "text/plain", Path: "doc.txt"}
	tags := tagsWith(map[string]float64{"xref": 4, "trailer": 2, "startxref": 1, "alpha": 1})
	if drop, reason := suppress(doc, tags, "xref 0 17 0000000000"); !drop {
		t.Errorf("Expected xref fragment to be suppressed")
	} else if reason != "pdf_xref_fragment" {
		t.Errorf("Expected pdf_xref_fragment. Got: %s", reason)
	}
}

func TestSuppress_OctetStream(t *testing.T) {
	opaque := &models.IndexDoc{Mime: "application/octet-stream", Path: "blob.bin"}
	if drop, _ := suppress(opaque, tagsWith(map[string]float64{}), ""); !drop {
		t.Errorf("Expected opaque binary to be suppressed")
	}

	rescued := &models.IndexDoc{Mime: "application/octet-stream", Path: "report.pdf"}
	if drop, _ := suppress(rescued, tagsWith(map[string]float64{"report": 1}), "a report"); drop {
		t.Errorf("Expected a previewable extension to rescue the hit")
	}
}

func TestSuppress_EPUBBinaryPreview(t *testing.T) {
	doc := &models.IndexDoc{Kind: "text", Mime: "application/epub+zip", Path: "book.epub"}
	if drop, reason := suppress(doc, tagsWith(map[string]float64{"book": 1}), "PK\x03\x04 garbled"); !drop || reason != "epub_binary_preview" {
		t.Errorf("Expected PK-prefixed EPUB preview to be suppressed. Got: %v, %s", drop, reason)
	}
}

func TestSuppress_DirectoryListing(t *testing.T) {
	doc := &models.IndexDoc{Kind: "html", Mime: "text/html", Path: "dir/index.html"}
	tags := models.ParsedTags{Tokens: map[string]float64{}, Title: "Index of /ipfs/bafyfoo"}
	if drop, reason := suppress(doc, tags, ""); !drop || reason != "directory_listing" {
		t.Errorf("Expected a title-based listing drop. Got: %v, %s", drop, reason)
	}

	tags = models.ParsedTags{Tokens: map[string]float64{}, ContentClass: "directory_listing"}
	if drop, _ := suppress(doc, tags, ""); !drop {
		t.Errorf("Expected a class-based listing drop")
	}
}

func TestSuppress_LowSignalText(t *testing.T) {
	doc := &models.IndexDoc{Kind: "text", Mime: "text/plain"}
	tags := tagsWith(map[string]float64{"label one": 2, "label two": 1})
	if drop, reason := suppress(doc, tags, ""); !drop || reason != "low_signal_text" {
		t.Errorf("Expected low-signal text drop. Got: %v, %s", drop, reason)
	}

	withTitle := models.ParsedTags{Tokens: map[string]float64{"label one": 2}, Title: "A Real Title"}
	if drop, _ := suppress(doc, withTitle, ""); drop {
		t.Errorf("Expected a titled hit to survive")
	}
}
