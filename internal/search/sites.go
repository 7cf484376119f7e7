package search

import (
	"context"
	"sort"
	"strings"

	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/cidutil"
	"github.com/lumen-network/lumen-gateway/internal/indexer"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// Record-match coefficients. A direct CID record beats an IPNS record, and
// an exact root match beats a one-hop descendant match.
const (
	coeffCIDExact       = 1.0
	coeffCIDDescendant  = 0.85
	coeffIPNSExact      = 0.9
	coeffIPNSDescendant = 0.8
)

// Domain score blend: matched content versus how well the domain name
// itself matches the query.
const (
	siteContentWeight = 0.7
	siteDomainWeight  = 0.3
	domainLabelWeight = 0.8
	domainTLDWeight   = 0.2
)

// Entry discovery limits when walking directories through the daemon.
const (
	entryMaxDepth = 2
	entryMaxDirs  = 25
)

// siteCandidate is one (domain, wallet) pairing under construction.
type siteCandidate struct {
	domain  string
	wallet  string
	root    string
	weight  float64 // content score x record coefficient
	signals signalSet
}

// buildSites resolves the site-mode view: domains whose on-chain records
// point at candidate roots, each with a discovered HTML entry, plus a
// CID-only fallback tier for strong roots without any domain.
func (e *Engine) buildSites(ctx context.Context, tokens []string, scored []scoredHit, plan models.QueryPlan) ([]models.SiteHit, error) {
	bestPerRoot := make(map[string]scoredHit)
	var rootOrder []string
	for _, s := range scored {
		root := cidutil.Canonical(rootOf(s.doc))
		if _, ok := bestPerRoot[root]; !ok {
			bestPerRoot[root] = s
			rootOrder = append(rootOrder, root)
		}
	}
	if len(rootOrder) > maxSiteRoots {
		rootOrder = rootOrder[:maxSiteRoots]
	}

	domainsByOwner := make(map[string][]chain.Domain)
	best := make(map[string]siteCandidate)
	matchedRoots := make(map[string]bool)

	for _, root := range rootOrder {
		content := bestPerRoot[root]
		owners, err := e.store.WalletsForRootCID(ctx, root)
		if err != nil {
			continue
		}
		for _, owner := range owners {
			domains, ok := domainsByOwner[owner]
			if !ok {
				domains, err = e.chain.DomainsByOwner(ctx, owner)
				if err != nil {
					continue
				}
				domainsByOwner[owner] = domains
			}
			for _, d := range domains {
				coeff := e.bestRecordCoeff(ctx, d.Records, root)
				if coeff <= 0 {
					continue
				}
				matchedRoots[root] = true
				cand := siteCandidate{
					domain:  d.Name,
					wallet:  owner,
					root:    root,
					weight:  content.score * coeff,
					signals: content.signals,
				}
				cand.signals.onchain = linkLinked
				key := d.Name + "|" + owner
				if prev, ok := best[key]; !ok || cand.weight > prev.weight {
					best[key] = cand
				}
			}
		}
	}

	type rankedSite struct {
		hit   models.SiteHit
		score float64
	}
	var ranked []rankedSite

	for _, cand := range best {
		entry, ok := e.findEntry(ctx, cand.root)
		if !ok {
			continue
		}
		score := clamp01(siteContentWeight*cand.weight + siteDomainWeight*domainMatchScore(tokens, cand.domain))
		ranked = append(ranked, rankedSite{
			hit: models.SiteHit{
				Domain:      cand.domain,
				Wallet:      cand.wallet,
				RootCID:     cand.root,
				EntryCID:    entry.cid,
				EntryPath:   entry.path,
				Title:       entry.title,
				Snippet:     entry.snippet,
				Tags:        entry.tags,
				RankSignals: rankSignals(cand.signals),
			},
			score: score,
		})
	}

	// Fallback tier: domainless roots still get a CID-only site entry,
	// ranked strictly below every domain-backed site.
	for _, root := range rootOrder {
		if matchedRoots[root] {
			continue
		}
		content := bestPerRoot[root]
		entry, ok := e.findEntry(ctx, root)
		if !ok {
			continue
		}
		ranked = append(ranked, rankedSite{
			hit: models.SiteHit{
				RootCID:     root,
				EntryCID:    entry.cid,
				EntryPath:   entry.path,
				Title:       entry.title,
				Snippet:     entry.snippet,
				Tags:        entry.tags,
				RankSignals: rankSignals(content.signals),
			},
			score: siteContentWeight * content.score * 0.5,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].hit.Domain != ranked[j].hit.Domain {
			return ranked[i].hit.Domain < ranked[j].hit.Domain
		}
		return ranked[i].hit.RootCID < ranked[j].hit.RootCID
	})

	limit := plan.Limit
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]models.SiteHit, 0, limit)
	for _, r := range ranked[:limit] {
		out = append(out, r.hit)
	}
	return out, nil
}

// bestRecordCoeff scores a domain's records against one root and keeps the
// strongest match.
func (e *Engine) bestRecordCoeff(ctx context.Context, records []chain.DomainRecord, root string) float64 {
	targets := e.links.matchTargets(ctx, root)
	canonical := cidutil.Canonical(root)

	best := 0.0
	for _, rec := range records {
		value := strings.TrimSpace(rec.Value)
		if value == "" {
			continue
		}
		var resolved string
		var exactCoeff, descCoeff float64
		switch classifyRecord(rec) {
		case "cid":
			resolved = value
			exactCoeff, descCoeff = coeffCIDExact, coeffCIDDescendant
		case "ipns":
			resolved = e.links.resolveIPNS(ctx, value)
			exactCoeff, descCoeff = coeffIPNSExact, coeffIPNSDescendant
		default:
			continue
		}
		if resolved == "" {
			continue
		}
		rc := cidutil.Canonical(resolved)
		switch {
		case rc == canonical:
			if exactCoeff > best {
				best = exactCoeff
			}
		case targets[rc]:
			if descCoeff > best {
				best = descCoeff
			}
		}
	}
	return best
}

// domainMatchScore rates how well a domain name matches the query: the
// label carries most of the weight, the TLD a little.
func domainMatchScore(tokens []string, domain string) float64 {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || len(tokens) == 0 {
		return 0
	}
	label, tld := domain, ""
	if i := strings.LastIndexByte(domain, '.'); i > 0 {
		label, tld = domain[:i], domain[i+1:]
	}

	labelScore := 0.0
	for _, tok := range tokens {
		if tok == "?" {
			continue
		}
		switch {
		case tok == label:
			labelScore = 1.0
		case strings.Contains(label, tok) && len(tok) >= minTermLen:
			if s := float64(len(tok)) / float64(len(label)); s > labelScore {
				labelScore = s
			}
		}
	}

	tldScore := 0.0
	for _, tok := range tokens {
		if tok == tld {
			tldScore = 1.0
			break
		}
	}

	return clamp01(domainLabelWeight*labelScore + domainTLDWeight*tldScore)
}

// siteEntry is a discovered HTML entrypoint with its display metadata.
type siteEntry struct {
	cid     string
	path    string
	title   string
	snippet string
	tags    []string
}

// findEntry locates the HTML entry of a root: the root itself when it is
// an HTML leaf, otherwise indexed children, otherwise a bounded directory
// walk through the daemon. Directory-listing lookalikes are rejected.
func (e *Engine) findEntry(ctx context.Context, root string) (siteEntry, bool) {
	doc, err := e.indexer.CID(ctx, root)
	if err == nil && doc != nil && isHTMLDoc(doc) {
		if entry, ok := e.entryFromDoc(doc, doc.Path); ok {
			return entry, true
		}
	}

	// Indexed children beat a daemon walk: they come with metadata.
	children, err := e.indexer.Children(ctx, root)
	if err == nil {
		if entry, ok := e.entryFromChildren(children); ok {
			return entry, true
		}
	}

	return e.entryFromLs(ctx, root)
}

// entryFromDoc shapes a site entry out of an indexed HTML doc, rejecting
// directory listings.
func (e *Engine) entryFromDoc(doc *models.IndexDoc, path string) (siteEntry, bool) {
	tags := indexer.ParseTags(doc.TagsJSON)
	title := firstNonEmpty(tags.Title, doc.Title)
	snippet := snippetFor(doc, tags)
	if isDirectoryListing(tags.ContentClass, strings.ToLower(title), strings.ToLower(snippet)) {
		return siteEntry{}, false
	}
	return siteEntry{
		cid:     doc.CID,
		path:    path,
		title:   title,
		snippet: snippet,
		tags:    tags.Topics,
	}, true
}

func (e *Engine) entryFromChildren(children []models.IndexDoc) (siteEntry, bool) {
	// index.html / index.htm first, then any HTML leaf.
	for pass := 0; pass < 2; pass++ {
		for i := range children {
			child := &children[i]
			if !isHTMLDoc(child) {
				continue
			}
			name := strings.ToLower(pathBase(child.Path))
			isIndex := name == "index.html" || name == "index.htm"
			if (pass == 0) != isIndex {
				continue
			}
			if entry, ok := e.entryFromDoc(child, child.Path); ok {
				return entry, true
			}
		}
	}
	return siteEntry{}, false
}

// entryFromLs walks the DAG through the daemon, breadth-first, preferring
// index files, bounded by depth and directory count.
func (e *Engine) entryFromLs(ctx context.Context, root string) (siteEntry, bool) {
	type dir struct {
		cid   string
		path  string
		depth int
	}
	queue := []dir{{cid: root}}
	visited := 0

	var fallback *siteEntry
	for len(queue) > 0 && visited < entryMaxDirs {
		d := queue[0]
		queue = queue[1:]
		visited++

		links, err := e.kubo.Ls(ctx, d.cid)
		if err != nil {
			continue
		}
		for _, l := range links {
			name := strings.ToLower(l.Name)
			childPath := joinPath(d.path, l.Name)
			switch {
			case l.IsDir():
				if d.depth+1 <= entryMaxDepth {
					queue = append(queue, dir{cid: l.Hash, path: childPath, depth: d.depth + 1})
				}
			case name == "index.html" || name == "index.htm":
				return siteEntry{cid: l.Hash, path: childPath}, true
			case strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm"):
				if fallback == nil {
					fallback = &siteEntry{cid: l.Hash, path: childPath}
				}
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return siteEntry{}, false
}

// siteForDoc resolves the site view of a single CID-direct lookup.
func (e *Engine) siteForDoc(ctx context.Context, doc *models.IndexDoc, sig signalSet) (*models.SiteHit, error) {
	root := rootOf(doc)
	entry, ok := e.findEntry(ctx, root)
	if !ok {
		return nil, nil
	}
	return &models.SiteHit{
		RootCID:     cidutil.Canonical(root),
		EntryCID:    entry.cid,
		EntryPath:   entry.path,
		Title:       entry.title,
		Snippet:     entry.snippet,
		Tags:        entry.tags,
		RankSignals: rankSignals(sig),
	}, nil
}

// isHTMLDoc reports whether an indexed doc is an HTML leaf.
func isHTMLDoc(doc *models.IndexDoc) bool {
	if doc.Kind == "html" || doc.Kind == "site" {
		return true
	}
	if strings.HasPrefix(doc.Mime, "text/html") {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(doc.ExtGuess, "."))
	if ext == "html" || ext == "htm" {
		return true
	}
	path := strings.ToLower(doc.Path)
	return strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm")
}

func pathBase(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
