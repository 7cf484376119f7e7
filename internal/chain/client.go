// Package chain talks to the chain's REST endpoints: storage contracts,
// chain params, the DNS module, and bank balances. It also hosts the plan
// validator that gates every mutating control-plane operation.
package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/httpx"
)

// Client wraps the chain REST API.
type Client struct {
	base string
	hc   *httpx.Client
}

// New builds a client for the REST endpoint at base.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   httpx.New("chain", timeout),
	}
}

// Contract is one storage contract. Numeric fields use json.Number because
// the chain encodes int64 values as strings.
type Contract struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	PlanID            string      `json:"plan_id"`
	StartSeconds      json.Number `json:"start_seconds"`
	MonthsTotal       json.Number `json:"months_total"`
	StorageGBPerMonth json.Number `json:"storage_gb_per_month"`
}

// ContractsByClient lists the wallet's storage contracts.
func (c *Client) ContractsByClient(ctx context.Context, wallet string) ([]Contract, error) {
	var out struct {
		Contracts []Contract `json:"contracts"`
	}
	u := c.base + "/gateway/v1/contracts?client=" + url.QueryEscape(wallet)
	if err := c.hc.JSON(ctx, "GET", u, &out); err != nil {
		return nil, err
	}
	return out.Contracts, nil
}

// Params is the subset of chain parameters the gateway consumes.
type Params struct {
	MonthSeconds int64
}

type paramsWire struct {
	MonthSeconds json.Number `json:"month_seconds"`
	Params       *struct {
		MonthSeconds json.Number `json:"month_seconds"`
	} `json:"params"`
}

// Params fetches chain parameters, tolerating both the flat and the
// params-wrapped framing.
func (c *Client) Params(ctx context.Context) (*Params, error) {
	var wire paramsWire
	if err := c.hc.JSON(ctx, "GET", c.base+"/gateway/v1/params", &wire); err != nil {
		return nil, err
	}
	num := wire.MonthSeconds
	if wire.Params != nil && wire.Params.MonthSeconds != "" {
		num = wire.Params.MonthSeconds
	}
	sec, _ := num.Int64()
	return &Params{MonthSeconds: sec}, nil
}

// DomainRecord is one record of a DNS-module domain.
type DomainRecord struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Domain is a DNS-module domain with its records.
type Domain struct {
	Name    string         `json:"name"`
	Owner   string         `json:"owner"`
	Records []DomainRecord `json:"records"`
}

// DomainsByOwner lists the domains a wallet owns.
func (c *Client) DomainsByOwner(ctx context.Context, owner string) ([]Domain, error) {
	var out struct {
		Domains []Domain `json:"domains"`
	}
	u := c.base + "/dns/v1/domains_by_owner/" + url.PathEscape(owner)
	err := c.hc.JSON(ctx, "GET", u, &out)
	if err != nil {
		if httpx.StatusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}
	return out.Domains, nil
}

// Domain fetches one domain by name; a chain 404 maps to (nil, nil).
func (c *Client) Domain(ctx context.Context, name string) (*Domain, error) {
	var out struct {
		Domain *Domain `json:"domain"`
	}
	u := c.base + "/dns/v1/domain/" + url.PathEscape(name)
	err := c.hc.JSON(ctx, "GET", u, &out)
	if err != nil {
		if httpx.StatusOf(err) == 404 {
			return nil, nil
		}
		return nil, err
	}
	return out.Domain, nil
}

// BalanceByDenom reads a wallet's balance for one denom as a big integer;
// a missing balance reads as zero.
func (c *Client) BalanceByDenom(ctx context.Context, addr, denom string) (*big.Int, error) {
	var out struct {
		Balance struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	u := c.base + "/bank/v1beta1/balances/" + url.PathEscape(addr) + "/by_denom?denom=" + url.QueryEscape(denom)
	if err := c.hc.JSON(ctx, "GET", u, &out); err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if out.Balance.Amount != "" {
		if _, ok := amount.SetString(out.Balance.Amount, 10); !ok {
			return nil, &httpx.Error{Kind: httpx.FailBadJSON, Details: "balance amount is not an integer: " + out.Balance.Amount}
		}
	}
	return amount, nil
}
