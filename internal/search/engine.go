package search

import (
	"context"
	"sort"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/cidutil"
	"github.com/lumen-network/lumen-gateway/internal/indexer"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

var log = logging.Logger("gateway/search")

// fetchPadding over-fetches candidates so junk suppression and offset
// slicing still leave a full page.
const (
	fetchPadding  = 100
	fetchCeiling  = 200
	maxSiteRoots  = 25
	siteModeSites = "sites"
	siteTypeSite  = "site"
)

// Engine executes search requests against the indexer and enriches hits
// with store-backed and chain-backed signals.
type Engine struct {
	indexer *indexer.Client
	chain   *chain.Client
	kubo    *kubo.Client
	store   *walletdb.Store
	usage   *walletdb.UsageStore
	links   *LinkResolver

	now func() time.Time
}

// NewEngine wires the engine and its link resolver.
func NewEngine(ix *indexer.Client, cc *chain.Client, kc *kubo.Client, store *walletdb.Store, usage *walletdb.UsageStore) *Engine {
	return &Engine{
		indexer: ix,
		chain:   cc,
		kubo:    kc,
		store:   store,
		usage:   usage,
		links:   NewLinkResolver(cc, kc, ix, store),
		now:     time.Now,
	}
}

// Request is the decrypted /pq/search payload.
type Request struct {
	Q      string `json:"q"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Facet  string `json:"facet,omitempty"`
	Lang   string `json:"lang,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Type   string `json:"type,omitempty"`
}

// UIHints tells the client how the query was interpreted.
type UIHints struct {
	Mode             string  `json:"mode"`
	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence,omitempty"`
	Target           string  `json:"target,omitempty"`
	CIDDirect        bool    `json:"cid_direct,omitempty"`
}

// Response is the search result envelope.
type Response struct {
	Query string             `json:"query"`
	Plan  models.QueryPlan   `json:"plan"`
	Hits  []models.SearchHit `json:"hits"`
	Sites []models.SiteHit   `json:"sites,omitempty"`
	Total int                `json:"total"`
	UI    UIHints            `json:"ui"`
}

// scoredHit pairs a shaped hit with its sort keys.
type scoredHit struct {
	hit     models.SearchHit
	doc     *models.IndexDoc
	tags    models.ParsedTags
	score   float64
	signals signalSet
}

// Run executes one search request.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	rawQuery := strings.TrimSpace(req.Q)
	siteMode := strings.EqualFold(req.Mode, siteModeSites) || strings.EqualFold(req.Type, siteTypeSite)

	// A pasted CID bypasses classification entirely.
	if cidutil.LooksLikeCID(rawQuery) {
		return e.cidDirect(ctx, rawQuery, siteMode)
	}

	tokens := Tokens(rawQuery)
	lang := req.Lang
	if lang == "" {
		lang = "en"
	}
	cls := Classify(tokens, lang)
	explore := strings.EqualFold(req.Facet, "everything") || strings.EqualFold(req.Mode, "explore")
	plan := BuildPlan(cls, req.Limit, req.Offset, explore)

	resp := &Response{
		Query: rawQuery,
		Plan:  plan,
		Hits:  []models.SearchHit{},
		UI: UIHints{
			Mode:             modeLabel(siteMode),
			Intent:           cls.Intent,
			IntentConfidence: cls.IntentConfidence,
			Target:           plan.TargetKind,
		},
	}

	if plan.NoQuery && !siteMode {
		return resp, nil
	}

	docs, err := e.candidates(ctx, tokens, plan, siteMode)
	if err != nil {
		return nil, err
	}

	scored := e.scoreAll(ctx, tokens, docs)
	resp.Total = len(scored)

	if siteMode {
		sites, err := e.buildSites(ctx, tokens, scored, plan)
		if err != nil {
			return nil, err
		}
		resp.Sites = sites
		resp.Total = len(sites)
		return resp, nil
	}

	resp.Hits = page(scored, plan.Offset, plan.Limit)
	return resp, nil
}

// candidates runs the indexer searches the plan calls for and merges
// results, distinct by CID, sorted by activity.
func (e *Engine) candidates(ctx context.Context, tokens []string, plan models.QueryPlan, siteMode bool) ([]models.IndexDoc, error) {
	kinds := planKinds(plan, siteMode)
	fetchLimit := plan.Limit + plan.Offset + fetchPadding
	if fetchLimit > fetchCeiling {
		fetchLimit = fetchCeiling
	}

	seen := make(map[string]bool)
	var docs []models.IndexDoc
	for _, kind := range kinds {
		batch, err := e.indexer.Search(ctx, indexer.Query{
			Kind:    kind,
			Tokens:  tokens,
			Present: true,
			Limit:   fetchLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, d := range batch {
			key := cidutil.Canonical(d.CID)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			docs = append(docs, d)
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		ti, tj := docs[i].ActivityTS(), docs[j].ActivityTS()
		if ti != tj {
			return ti > tj
		}
		return docs[i].CID < docs[j].CID
	})
	return docs, nil
}

// planKinds picks the kind filter list: explicit target, then base kinds,
// then one unfiltered pass. Site mode anchors on html pages.
func planKinds(plan models.QueryPlan, siteMode bool) []string {
	if siteMode {
		return []string{"html", "site"}
	}
	if plan.TargetKind != "" {
		return []string{plan.TargetKind}
	}
	if len(plan.BaseKinds) > 0 {
		return plan.BaseKinds
	}
	return []string{""}
}

// scoreAll shapes, filters, and scores candidates, returning them in final
// rank order.
func (e *Engine) scoreAll(ctx context.Context, tokens []string, docs []models.IndexDoc) []scoredHit {
	budget := newLinkBudget()
	nowMs := e.now().UnixMilli()

	var scored []scoredHit
	for i := range docs {
		doc := &docs[i]
		tags := indexer.ParseTags(doc.TagsJSON)
		snippet := snippetFor(doc, tags)

		if drop, reason := suppress(doc, tags, snippet); drop {
			log.Debugw("hit suppressed", "cid", doc.CID, "reason", reason)
			continue
		}

		sig := signalSet{
			relevance:    normalizeRelevance(scoreRelevance(tokens, doc, tags)),
			freshness:    freshnessScore(doc.ActivityTS(), nowMs),
			availability: availabilityScore(doc),
			onchain:      e.links.Resolve(ctx, rootOf(doc), budget),
		}
		sig.popularity = e.popularityFor(ctx, doc, nowMs)

		scored = append(scored, scoredHit{
			hit:     shapeHit(doc, tags, snippet, sig),
			doc:     doc,
			tags:    tags,
			score:   sig.composite(),
			signals: sig,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		ti, tj := scored[i].doc.ActivityTS(), scored[j].doc.ActivityTS()
		if ti != tj {
			return ti > tj
		}
		return scored[i].doc.CID < scored[j].doc.CID
	})
	return scored
}

// popularityFor reads the usage and replication windows for one CID.
// Store failures degrade to zero popularity rather than failing the query.
func (e *Engine) popularityFor(ctx context.Context, doc *models.IndexDoc, nowMs int64) float64 {
	cids := []string{doc.CID}
	if doc.RootCID != "" && doc.RootCID != doc.CID {
		cids = append(cids, doc.RootCID)
	}

	okWallets := 0
	if e.usage != nil {
		n, err := e.usage.CountOkWallets(ctx, cids, nowMs-usageWindow.Milliseconds())
		if err == nil {
			okWallets = n
		}
	}
	replicas := 0
	if e.store != nil {
		n, err := e.store.CountWalletsReplicating(ctx, cids, nowMs-replicationWindow.Milliseconds())
		if err == nil {
			replicas = n
		}
	}
	return popularityScore(okWallets, replicas)
}

// snippetFor picks the preview text: extracted preview for text hits,
// description otherwise.
func snippetFor(doc *models.IndexDoc, tags models.ParsedTags) string {
	if doc.Kind == "text" {
		return doc.Preview
	}
	return firstNonEmpty(tags.Description, doc.Description)
}

func shapeHit(doc *models.IndexDoc, tags models.ParsedTags, snippet string, sig signalSet) models.SearchHit {
	return models.SearchHit{
		CID:         doc.CID,
		RootCID:     doc.RootCID,
		Path:        doc.Path,
		Kind:        doc.Kind,
		Mime:        doc.Mime,
		Title:       firstNonEmpty(tags.Title, doc.Title),
		Snippet:     snippet,
		Tags:        tags.Topics,
		RankSignals: rankSignals(sig),
		ActivityTS:  doc.ActivityTS(),
	}
}

// rootOf names the root the linkage check runs against.
func rootOf(doc *models.IndexDoc) string {
	if doc.RootCID != "" {
		return doc.RootCID
	}
	return doc.CID
}

func page(scored []scoredHit, offset, limit int) []models.SearchHit {
	if offset >= len(scored) {
		return []models.SearchHit{}
	}
	end := offset + limit
	if end > len(scored) {
		end = len(scored)
	}
	out := make([]models.SearchHit, 0, end-offset)
	for _, s := range scored[offset:end] {
		out = append(out, s.hit)
	}
	return out
}

// cidDirect looks one CID up in the indexer, bypassing classification.
func (e *Engine) cidDirect(ctx context.Context, rawCID string, siteMode bool) (*Response, error) {
	resp := &Response{
		Query: rawCID,
		Plan:  models.QueryPlan{Intent: IntentNavigation, Limit: 1, NoQuery: true},
		Hits:  []models.SearchHit{},
		UI:    UIHints{Mode: modeLabel(siteMode), Intent: IntentNavigation, CIDDirect: true},
	}

	doc, err := e.indexer.CID(ctx, rawCID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return resp, nil
	}

	tags := indexer.ParseTags(doc.TagsJSON)
	snippet := snippetFor(doc, tags)
	budget := newLinkBudget()
	nowMs := e.now().UnixMilli()
	sig := signalSet{
		relevance:    1, // an exact CID lookup is maximally relevant
		freshness:    freshnessScore(doc.ActivityTS(), nowMs),
		availability: availabilityScore(doc),
		onchain:      e.links.Resolve(ctx, rootOf(doc), budget),
	}
	sig.popularity = e.popularityFor(ctx, doc, nowMs)

	if siteMode {
		site, err := e.siteForDoc(ctx, doc, sig)
		if err == nil && site != nil {
			resp.Sites = []models.SiteHit{*site}
			resp.Total = 1
		}
		return resp, nil
	}

	resp.Hits = []models.SearchHit{shapeHit(doc, tags, snippet, sig)}
	resp.Total = 1
	return resp, nil
}

func modeLabel(siteMode bool) string {
	if siteMode {
		return "sites"
	}
	return "content"
}
