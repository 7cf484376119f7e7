package kubo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/httpx"
)

// maxProxyBytes caps content fetched for sealed proxy responses. The proxy
// re-encrypts the whole body into a JSON envelope, so it has to fit in
// memory with room to spare.
const maxProxyBytes = 16 << 20

// Gateway fetches content through the daemon's public HTTP gateway for the
// sealed /pq/ipfs and /pq/ipns proxies.
type Gateway struct {
	base string
	hc   *httpx.Client
}

// NewGateway builds a fetcher for the gateway at base (for example
// http://127.0.0.1:8080).
func NewGateway(base string, timeout time.Duration) *Gateway {
	return &Gateway{
		base: strings.TrimRight(base, "/"),
		hc:   httpx.New("ipfs-gateway", timeout),
	}
}

// Content is a fetched object ready for sealing.
type Content struct {
	Status      int
	ContentType string
	Body        []byte
}

// FetchIPFS retrieves /ipfs/{cid}[/path][?query].
func (g *Gateway) FetchIPFS(ctx context.Context, cid, path, query string) (*Content, error) {
	return g.fetch(ctx, "/ipfs/"+cid, path, query)
}

// FetchIPNS retrieves /ipns/{name}[/path][?query].
func (g *Gateway) FetchIPNS(ctx context.Context, name, path, query string) (*Content, error) {
	return g.fetch(ctx, "/ipns/"+name, path, query)
}

func (g *Gateway) fetch(ctx context.Context, root, path, query string) (*Content, error) {
	u := g.base + root
	if path != "" {
		u += "/" + strings.TrimLeft(path, "/")
	}
	if query != "" {
		u += "?" + query
	}
	if _, err := url.Parse(u); err != nil {
		return nil, fmt.Errorf("bad gateway url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxProxyBytes {
		return nil, fmt.Errorf("content exceeds the %d byte proxy limit", maxProxyBytes)
	}

	return &Content{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
