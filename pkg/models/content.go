package models

import "encoding/json"

// IndexDoc is one indexed object as the indexer reports it. Fields the
// indexer omits stay zero; consumers must tolerate sparse docs.
type IndexDoc struct {
	CID           string          `json:"cid"`
	RootCID       string          `json:"root_cid,omitempty"`
	Path          string          `json:"path,omitempty"`
	Kind          string          `json:"kind,omitempty"` // text, html, image, doc, code, file, media, site
	Mime          string          `json:"mime,omitempty"`
	ExtGuess      string          `json:"ext_guess,omitempty"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Preview       string          `json:"preview,omitempty"` // extracted text snippet for kind=text
	Confidence    float64         `json:"confidence,omitempty"`
	Present       bool            `json:"present"`
	PresentSource string          `json:"present_source,omitempty"` // "pinls" is authoritative
	IndexError    string          `json:"error,omitempty"`
	OkWallets     int             `json:"ok_wallets,omitempty"`
	TotalWallets  int             `json:"total_wallets,omitempty"`
	SizeBytes     int64           `json:"size,omitempty"`
	TagsJSON      json.RawMessage `json:"tags_json,omitempty"`
	FirstSeen     int64           `json:"first_seen,omitempty"` // ms epoch
	LastSeen      int64           `json:"last_seen,omitempty"`
	Updated       int64           `json:"updated,omitempty"`
	Indexed       int64           `json:"indexed,omitempty"`
}

// ActivityTS picks the doc's activity timestamp: the first non-zero of
// last_seen, first_seen, updated, indexed.
func (d *IndexDoc) ActivityTS() int64 {
	for _, ts := range []int64{d.LastSeen, d.FirstSeen, d.Updated, d.Indexed} {
		if ts > 0 {
			return ts
		}
	}
	return 0
}

// ParsedTags is the normalized form of a doc's tags_json.
type ParsedTags struct {
	Topics       []string
	Tokens       map[string]float64 // term -> occurrence count
	Title        string
	Description  string
	ContentClass string
	Signals      map[string]float64
}

// RankSignals buckets the per-component scores for responses; raw scores
// are never exposed.
type RankSignals struct {
	Popularity   string `json:"popularity"`   // low / medium / high
	Relevance    string `json:"relevance"`    // low / medium / high
	Freshness    string `json:"freshness"`    // low / medium / high
	Availability string `json:"availability"` // low / medium / high
	Onchain      string `json:"onchain"`      // linked / none / unknown
}

// SearchHit is one ranked result of /pq/search.
type SearchHit struct {
	CID         string      `json:"cid"`
	RootCID     string      `json:"root_cid,omitempty"`
	Path        string      `json:"path,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	Mime        string      `json:"mime,omitempty"`
	Title       string      `json:"title,omitempty"`
	Snippet     string      `json:"snippet,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	RankSignals RankSignals `json:"rank_signals"`
	ActivityTS  int64       `json:"activity_ts,omitempty"`
}

// SiteHit is one ranked result of site-mode search: a domain (or bare CID)
// with a resolved HTML entry point.
type SiteHit struct {
	Domain      string      `json:"domain,omitempty"`
	Wallet      string      `json:"wallet,omitempty"`
	RootCID     string      `json:"root_cid"`
	EntryCID    string      `json:"entry_cid,omitempty"`
	EntryPath   string      `json:"entry_path,omitempty"`
	Title       string      `json:"title,omitempty"`
	Snippet     string      `json:"snippet,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	RankSignals RankSignals `json:"rank_signals"`
}

// QueryPlan is the executed interpretation of a search query, echoed back
// to clients for transparency.
type QueryPlan struct {
	Intent     string   `json:"intent"`
	TargetKind string   `json:"target_kind,omitempty"`
	BaseKinds  []string `json:"base_kinds,omitempty"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	NoQuery    bool     `json:"no_query,omitempty"`
}
