// Package kubo is a thin client for the CAS daemon's HTTP API (pinning,
// DAG import, directory listing, name resolution) plus its public gateway.
package kubo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/httpx"
)

// Client talks to the CAS daemon RPC API. Every endpoint is POST with
// query-string arguments.
type Client struct {
	base     string
	api      *httpx.Client
	importer *httpx.Client
}

// New builds a client for the API at base (for example
// http://127.0.0.1:5001). reqTimeout bounds ordinary calls, importTimeout
// bounds DAG imports.
func New(base string, reqTimeout, importTimeout time.Duration) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		api:      httpx.New("kubo", reqTimeout),
		importer: httpx.New("kubo-import", importTimeout),
	}
}

func (c *Client) endpoint(path string, args url.Values) string {
	if len(args) == 0 {
		return c.base + path
	}
	return c.base + path + "?" + args.Encode()
}

// Version returns the daemon's version string; it doubles as the liveness
// probe behind /status.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"Version"`
	}
	if err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/version", nil), &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// PinAdd pins a CID recursively.
func (c *Client) PinAdd(ctx context.Context, cid string) error {
	args := url.Values{"arg": {cid}}
	return c.api.JSON(ctx, "POST", c.endpoint("/api/v0/pin/add", args), nil)
}

// PinRm removes a recursive pin.
func (c *Client) PinRm(ctx context.Context, cid string) error {
	args := url.Values{"arg": {cid}}
	return c.api.JSON(ctx, "POST", c.endpoint("/api/v0/pin/rm", args), nil)
}

// IsPinnedRecursive reports whether the daemon holds a recursive pin for
// the CID. The daemon answers "not pinned" with an error status, so that
// case maps to (false, nil) rather than a failure.
func (c *Client) IsPinnedRecursive(ctx context.Context, cid string) (bool, error) {
	args := url.Values{"arg": {cid}, "type": {"recursive"}}
	var out struct {
		Keys map[string]struct {
			Type string `json:"Type"`
		} `json:"Keys"`
	}
	err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/pin/ls", args), &out)
	if err != nil {
		if httpx.KindOf(err) == httpx.FailBadStatus && strings.Contains(err.Error(), "not pinned") {
			return false, nil
		}
		return false, err
	}
	return len(out.Keys) > 0, nil
}

// LsLink is one entry of a UnixFS directory listing.
type LsLink struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size uint64 `json:"Size"`
	Type int    `json:"Type"` // 1 directory, 2 file
}

// IsDir reports whether the link is a directory.
func (l LsLink) IsDir() bool { return l.Type == 1 }

// Ls lists the immediate links under a CID.
func (c *Client) Ls(ctx context.Context, cid string) ([]LsLink, error) {
	args := url.Values{"arg": {cid}}
	var out struct {
		Objects []struct {
			Hash  string   `json:"Hash"`
			Links []LsLink `json:"Links"`
		} `json:"Objects"`
	}
	if err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/ls", args), &out); err != nil {
		return nil, err
	}
	if len(out.Objects) == 0 {
		return nil, nil
	}
	return out.Objects[0].Links, nil
}

// NameResolve resolves an IPNS name to its current /ipfs/ path.
func (c *Client) NameResolve(ctx context.Context, name string) (string, error) {
	args := url.Values{"arg": {name}}
	var out struct {
		Path string `json:"Path"`
	}
	if err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/name/resolve", args), &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// NodeIdentity is the subset of /api/v0/id the gateway republishes.
type NodeIdentity struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// ID fetches the daemon's peer identity and announced addresses.
func (c *Client) ID(ctx context.Context) (*NodeIdentity, error) {
	var out NodeIdentity
	if err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/id", nil), &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("daemon returned an empty peer id")
	}
	return &out, nil
}

// SwarmListenAddrs fetches the daemon's listen addresses; they complement
// the announced set when building the seed response.
func (c *Client) SwarmListenAddrs(ctx context.Context) ([]string, error) {
	var out struct {
		Strings []string `json:"Strings"`
	}
	if err := c.api.JSON(ctx, "POST", c.endpoint("/api/v0/swarm/addrs/listen", nil), &out); err != nil {
		return nil, err
	}
	return out.Strings, nil
}
