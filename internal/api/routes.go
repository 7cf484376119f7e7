// Package api is the HTTP façade: routing, CORS, PQ envelope middleware,
// prometheus metrics, and the route handlers that tie the controllers
// together.
package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/config"
	"github.com/lumen-network/lumen-gateway/internal/events"
	"github.com/lumen-network/lumen-gateway/internal/ingest"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/pins"
	"github.com/lumen-network/lumen-gateway/internal/pqcrypto"
	"github.com/lumen-network/lumen-gateway/internal/search"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

var log = logging.Logger("gateway/api")

// ingestCarRatePerMin bounds the public CAR endpoint per IP; everything
// else is gated by the PQ envelope.
const (
	ingestCarRatePerMin = 30
	ingestCarBurst      = 10

	daemonProbeTTL = 60 * time.Second
	paramsProbeTTL = 10 * time.Minute
)

// Handler carries every collaborator the routes need.
type Handler struct {
	cfg       *config.Config
	pqctx     *pqcrypto.Context
	codec     *pqcrypto.Codec
	store     *walletdb.Store
	usage     *walletdb.UsageStore
	kubo      *kubo.Client
	gateway   *kubo.Gateway
	chain     *chain.Client
	validator *chain.Validator
	pins      *pins.Controller
	pipeline  *ingest.Pipeline
	engine    *search.Engine
	hub       *events.Hub
	registry  *events.Registry
	metrics   *Metrics

	// cached best-effort probes for /status and /pricing
	probeMu        sync.Mutex
	daemonOnline   bool
	daemonProbedAt time.Time
	monthSeconds   int64
	paramsProbedAt time.Time

	now func() time.Time
}

// Deps names the collaborators for NewHandler; all are required except hub
// and registry.
type Deps struct {
	Config    *config.Config
	PQContext *pqcrypto.Context
	Codec     *pqcrypto.Codec
	Store     *walletdb.Store
	Usage     *walletdb.UsageStore
	Kubo      *kubo.Client
	Gateway   *kubo.Gateway
	Chain     *chain.Client
	Validator *chain.Validator
	Pins      *pins.Controller
	Pipeline  *ingest.Pipeline
	Engine    *search.Engine
	Hub       *events.Hub
	Registry  *events.Registry
}

// NewHandler wires the façade.
func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:       d.Config,
		pqctx:     d.PQContext,
		codec:     d.Codec,
		store:     d.Store,
		usage:     d.Usage,
		kubo:      d.Kubo,
		gateway:   d.Gateway,
		chain:     d.Chain,
		validator: d.Validator,
		pins:      d.Pins,
		pipeline:  d.Pipeline,
		engine:    d.Engine,
		hub:       d.Hub,
		registry:  d.Registry,
		metrics:   NewMetrics(),
		now:       time.Now,
	}
}

// SetupRouter builds the gin engine with all routes and middleware.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(h.cfg.AllowedOrigins))
	r.Use(h.httpMetrics())

	r.GET("/health", h.handleHealth)
	r.GET("/status", h.handleStatus)
	r.GET("/pq/pub", h.handlePQPub)
	r.GET("/pricing", h.handlePricing)
	r.GET("/ipfs/seed", h.handleIPFSSeed)
	r.GET("/metrics", privateOnly(), gin.WrapH(promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{})))

	if h.hub != nil {
		r.GET("/events/stream", gin.WrapF(h.hub.Subscribe))
	}

	// The CAR upload is authorized by its single-use token, not an
	// envelope, so it gets a per-IP rate limit instead.
	carLimit := NewRateLimiter(ingestCarRatePerMin, ingestCarBurst)
	r.POST("/ingest/car", carLimit.Middleware(), h.handleIngestCar)

	pq := r.Group("", h.bodyCapture(), h.pqAuth())
	{
		pq.POST("/pq/search", h.handleSearch)
		pq.POST("/pq/ipfs", h.handleViewIPFS)
		pq.POST("/pq/ipns", h.handleViewIPNS)
		pq.POST("/wallet/usage", h.handleWalletUsage)
		pq.POST("/wallet/cids", h.handleWalletCIDs)
		pq.POST("/wallet/cid/rename", h.handleWalletCIDRename)
		pq.POST("/pin", h.handlePin)
		pq.POST("/unpin", h.handleUnpin)
		pq.POST("/ispinned", h.handleIsPinned)
		pq.POST("/ingest/ready", h.handleIngestReady)
		pq.POST("/ingest/init", h.handleIngestInit)
	}

	return r
}
