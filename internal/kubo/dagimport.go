package kubo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// importLine is one NDJSON object from dag/import. Depending on daemon
// version the root CID arrives as Root.Cid."/" or directly as Root."/".
type importLine struct {
	Root *struct {
		Cid *struct {
			Slash string `json:"/"`
		} `json:"Cid"`
		Slash       string `json:"/"`
		PinErrorMsg string `json:"PinErrorMsg"`
	} `json:"Root"`
}

func (l importLine) rootCID() string {
	if l.Root == nil {
		return ""
	}
	if l.Root.Cid != nil && l.Root.Cid.Slash != "" {
		return l.Root.Cid.Slash
	}
	return l.Root.Slash
}

// DagImport streams a CAR body into the daemon with pin-roots=true and
// returns the distinct root CIDs in first-seen order. The body is never
// buffered: it flows through an io.Pipe into the multipart writer as the
// request uploads. Exactly one attempt; a CAR body cannot be replayed.
func (c *Client) DagImport(ctx context.Context, car io.Reader) ([]string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", "upload.car")
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, car); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := mw.Close(); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	args := url.Values{"pin-roots": {"true"}}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint("/api/v0/dag/import", args), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+mw.Boundary())

	resp, err := c.importer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return parseImportRoots(resp.Body)
}

// parseImportRoots walks the line-delimited JSON import report and collects
// root CIDs, deduplicated, in first-seen order.
func parseImportRoots(r io.Reader) ([]string, error) {
	dec := json.NewDecoder(r)
	seen := make(map[string]bool)
	var roots []string
	for {
		var line importLine
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cid := line.rootCID()
		if cid == "" || seen[cid] {
			continue
		}
		seen[cid] = true
		roots = append(roots, cid)
	}
	return roots, nil
}
