package indexer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lumen-network/lumen-gateway/internal/httpx"
	"github.com/lumen-network/lumen-gateway/pkg/models"
)

type jsonRaw = json.RawMessage

// decodeDocs tolerates both framings: a bare doc array and {"hits": [...]}.
func decodeDocs(raw json.RawMessage) ([]models.IndexDoc, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var docs []models.IndexDoc
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, &httpx.Error{Kind: httpx.FailBadJSON, Details: err.Error()}
		}
		return docs, nil
	}
	var wrapped struct {
		Hits []models.IndexDoc `json:"hits"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, &httpx.Error{Kind: httpx.FailBadJSON, Details: err.Error()}
	}
	return wrapped.Hits, nil
}

// ParseTags normalizes a doc's tags_json. The indexer has shipped several
// shapes over time (object, double-encoded string, tokens as histogram or
// plain list), so every branch here exists in the wild. Parsing never
// fails; unusable input yields empty tags.
func ParseTags(raw json.RawMessage) models.ParsedTags {
	out := models.ParsedTags{Tokens: make(map[string]float64)}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out
	}
	// Double-encoded: a JSON string whose content is JSON.
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return out
		}
		trimmed = bytes.TrimSpace([]byte(s))
		if len(trimmed) == 0 {
			return out
		}
	}

	var obj struct {
		Topics       json.RawMessage    `json:"topics"`
		Tokens       json.RawMessage    `json:"tokens"`
		Title        string             `json:"title"`
		Description  string             `json:"description"`
		ContentClass string             `json:"content_class"`
		Signals      map[string]float64 `json:"signals"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return out
	}

	out.Title = obj.Title
	out.Description = obj.Description
	out.ContentClass = obj.ContentClass
	out.Signals = obj.Signals
	out.Topics = parseTopics(obj.Topics)
	out.Tokens = parseTokens(obj.Tokens)
	return out
}

func parseTopics(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return lowerAll(list)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return lowerAll(strings.Split(one, ","))
	}
	return nil
}

func parseTokens(raw json.RawMessage) map[string]float64 {
	out := make(map[string]float64)
	if len(raw) == 0 {
		return out
	}

	// Histogram object; counts may be numbers or numeric strings.
	var hist map[string]any
	if err := json.Unmarshal(raw, &hist); err == nil {
		for term, v := range hist {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			switch n := v.(type) {
			case float64:
				out[term] += n
			case string:
				if f, err := strconv.ParseFloat(n, 64); err == nil {
					out[term] += f
				} else {
					out[term]++
				}
			case bool:
				out[term]++
			}
		}
		return out
	}

	// Plain token list; duplicates accumulate.
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, term := range list {
			term = strings.ToLower(strings.TrimSpace(term))
			if term != "" {
				out[term]++
			}
		}
		return out
	}

	// List of {token, count} pairs.
	var pairs []struct {
		Token string  `json:"token"`
		Count float64 `json:"count"`
	}
	if err := json.Unmarshal(raw, &pairs); err == nil {
		for _, p := range pairs {
			term := strings.ToLower(strings.TrimSpace(p.Token))
			if term == "" {
				continue
			}
			if p.Count > 0 {
				out[term] += p.Count
			} else {
				out[term]++
			}
		}
	}
	return out
}

func lowerAll(ss []string) []string {
	var out []string
	for _, s := range ss {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
