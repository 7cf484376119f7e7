// Package indexer queries the content indexer: per-CID documents, DAG
// edges, and token search.
package indexer

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/httpx"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// Client talks to the indexer's read API.
type Client struct {
	base string
	hc   *httpx.Client
}

// New builds a client for the indexer at base.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   httpx.New("indexer", timeout),
	}
}

// CID fetches one document. An indexer 404 maps to (nil, nil).
func (c *Client) CID(ctx context.Context, cid string) (*models.IndexDoc, error) {
	var doc models.IndexDoc
	err := c.hc.JSON(ctx, "GET", c.base+"/cid/"+url.PathEscape(cid), &doc)
	if err != nil {
		if httpx.StatusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}
	if doc.CID == "" {
		doc.CID = cid
	}
	return &doc, nil
}

// Children returns the direct children of a CID in the DAG.
func (c *Client) Children(ctx context.Context, cid string) ([]models.IndexDoc, error) {
	return c.docList(ctx, c.base+"/children/"+url.PathEscape(cid))
}

// Parents returns the direct parents of a CID in the DAG.
func (c *Client) Parents(ctx context.Context, cid string) ([]models.IndexDoc, error) {
	return c.docList(ctx, c.base+"/parents/"+url.PathEscape(cid))
}

// Query is one indexer search call.
type Query struct {
	Kind    string
	Tokens  []string
	Present bool
	Limit   int
	Offset  int
}

// Search runs a token query. Tokens are space-joined into the single token
// parameter the indexer expects.
func (c *Client) Search(ctx context.Context, q Query) ([]models.IndexDoc, error) {
	args := url.Values{}
	if q.Kind != "" {
		args.Set("kind", q.Kind)
	}
	if len(q.Tokens) > 0 {
		args.Set("token", strings.Join(q.Tokens, " "))
	}
	if q.Present {
		args.Set("present", "1")
	}
	if q.Limit > 0 {
		args.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		args.Set("offset", strconv.Itoa(q.Offset))
	}
	return c.docList(ctx, c.base+"/search?"+args.Encode())
}

// docList tolerates both response framings the indexer has used: a bare
// array and an object wrapping it under "hits".
func (c *Client) docList(ctx context.Context, url string) ([]models.IndexDoc, error) {
	var raw jsonRaw
	if err := c.hc.JSON(ctx, "GET", url, &raw); err != nil {
		if httpx.StatusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}
	return decodeDocs(raw)
}
