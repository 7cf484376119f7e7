package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/cidutil"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// linkState is the on-chain linkage verdict for one root.
type linkState int

const (
	linkUnknown linkState = iota
	linkNone
	linkLinked
)

func (s linkState) String() string {
	switch s {
	case linkLinked:
		return "linked"
	case linkNone:
		return "none"
	default:
		return "unknown"
	}
}

const (
	// linkCacheTTL: domain records change by on-chain transaction, so a
	// verdict stays valid for a while.
	linkCacheTTL = 15 * time.Minute
	ipnsCacheTTL = 15 * time.Minute

	// maxLinkResolutions caps the chain/indexer fan-out of one query.
	// Roots beyond the cap report unknown.
	maxLinkResolutions = 40
)

type cachedLink struct {
	state linkState
	at    time.Time
}

type cachedIPNS struct {
	cid string
	at  time.Time
}

// LinkResolver decides whether a root CID is referenced by an on-chain
// domain record owned by one of the wallets that hold the root. Verdicts
// and IPNS resolutions are cached process-wide.
type LinkResolver struct {
	chain   *chain.Client
	kubo    *kubo.Client
	indexer parentLister
	store   *walletdb.Store

	mu    sync.Mutex
	links map[string]cachedLink
	ipns  map[string]cachedIPNS

	now func() time.Time
}

// parentLister is the slice of the indexer client the resolver needs;
// *indexer.Client satisfies it.
type parentLister interface {
	Parents(ctx context.Context, cid string) ([]models.IndexDoc, error)
}

// NewLinkResolver wires the resolver's collaborators.
func NewLinkResolver(cc *chain.Client, kc *kubo.Client, parents parentLister, store *walletdb.Store) *LinkResolver {
	return &LinkResolver{
		chain:   cc,
		kubo:    kc,
		indexer: parents,
		store:   store,
		links:   make(map[string]cachedLink),
		ipns:    make(map[string]cachedIPNS),
		now:     time.Now,
	}
}

// linkBudget tracks how many fresh resolutions one query may still spend.
type linkBudget struct{ remaining int }

func newLinkBudget() *linkBudget { return &linkBudget{remaining: maxLinkResolutions} }

// Resolve returns the linkage verdict for a root, consuming budget only on
// cache misses. With the budget exhausted the verdict is unknown, never a
// guess.
func (r *LinkResolver) Resolve(ctx context.Context, root string, budget *linkBudget) linkState {
	key := cidutil.Canonical(root)

	r.mu.Lock()
	if c, ok := r.links[key]; ok && r.now().Sub(c.at) < linkCacheTTL {
		r.mu.Unlock()
		return c.state
	}
	r.mu.Unlock()

	if budget.remaining <= 0 {
		return linkUnknown
	}
	budget.remaining--

	state := r.resolveFresh(ctx, root)
	if state != linkUnknown {
		r.mu.Lock()
		r.links[key] = cachedLink{state: state, at: r.now()}
		r.mu.Unlock()
	}
	return state
}

// resolveFresh walks owners -> domains -> records and matches each record
// value (direct CID or resolved IPNS) against the root or its one-hop
// parents.
func (r *LinkResolver) resolveFresh(ctx context.Context, root string) linkState {
	owners, err := r.store.WalletsForRootCID(ctx, root)
	if err != nil || len(owners) == 0 {
		if err != nil {
			return linkUnknown
		}
		return linkNone
	}

	targets := r.matchTargets(ctx, root)

	sawChain := false
	for _, owner := range owners {
		domains, err := r.chain.DomainsByOwner(ctx, owner)
		if err != nil {
			continue
		}
		sawChain = true
		for _, d := range domains {
			for _, rec := range d.Records {
				if r.recordMatches(ctx, rec, targets) {
					return linkLinked
				}
			}
		}
	}
	if !sawChain {
		return linkUnknown
	}
	return linkNone
}

// matchTargets is the canonical set a record value must land in: the root
// itself plus its direct parents (one hop up the DAG).
func (r *LinkResolver) matchTargets(ctx context.Context, root string) map[string]bool {
	targets := map[string]bool{cidutil.Canonical(root): true}
	if r.indexer == nil {
		return targets
	}
	parents, err := r.indexer.Parents(ctx, root)
	if err != nil {
		return targets
	}
	for _, p := range parents {
		if p.CID != "" {
			targets[cidutil.Canonical(p.CID)] = true
		}
	}
	return targets
}

func (r *LinkResolver) recordMatches(ctx context.Context, rec chain.DomainRecord, targets map[string]bool) bool {
	value := strings.TrimSpace(rec.Value)
	if value == "" {
		return false
	}

	switch classifyRecord(rec) {
	case "cid":
		return targets[cidutil.Canonical(value)]
	case "ipns":
		resolved := r.resolveIPNS(ctx, value)
		return resolved != "" && targets[cidutil.Canonical(resolved)]
	}
	return false
}

// classifyRecord decides how to interpret a record: explicit types win,
// then the value's shape.
func classifyRecord(rec chain.DomainRecord) string {
	switch strings.ToLower(rec.Type) {
	case "cid", "ipfs", "content":
		return "cid"
	case "ipns", "name":
		return "ipns"
	}
	if cidutil.LooksLikeCID(rec.Value) {
		return "cid"
	}
	if strings.HasPrefix(rec.Value, "k51") || strings.HasPrefix(rec.Value, "/ipns/") {
		return "ipns"
	}
	return ""
}

// resolveIPNS resolves a name through the daemon, caching results.
func (r *LinkResolver) resolveIPNS(ctx context.Context, name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/ipns/")

	r.mu.Lock()
	if c, ok := r.ipns[name]; ok && r.now().Sub(c.at) < ipnsCacheTTL {
		r.mu.Unlock()
		return c.cid
	}
	r.mu.Unlock()

	path, err := r.kubo.NameResolve(ctx, name)
	if err != nil {
		return ""
	}
	cid := strings.TrimPrefix(path, "/ipfs/")
	if i := strings.IndexByte(cid, '/'); i >= 0 {
		cid = cid[:i]
	}

	r.mu.Lock()
	r.ipns[name] = cachedIPNS{cid: cid, at: r.now()}
	r.mu.Unlock()
	return cid
}
