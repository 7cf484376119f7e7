// Package search implements the content search ranker: query
// classification, plan building, candidate acquisition against the indexer,
// multi-signal scoring, on-chain linkage resolution, and site-mode
// entrypoint discovery.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Intents a query can express.
const (
	IntentNavigation = "navigation"
	IntentQuestion   = "question"
	IntentContent    = "content"
	IntentDiscover   = "discover"
	IntentDownload   = "download"
	IntentAction     = "action"
	IntentUnknown    = "unknown"
)

// Target kinds a query can ask for. Anything else collapses to mixed.
const (
	TargetSite  = "site"
	TargetImage = "image"
	TargetDoc   = "doc"
	TargetCode  = "code"
	TargetFile  = "file"
	TargetMedia = "media"
	TargetMixed = "mixed"
)

// minConfidence gates classifier output: below it the label is withheld.
const minConfidence = 0.6

// Normalize lowercases, decomposes (NFD) and strips diacritics, keeps only
// [a-z0-9 ?], and collapses whitespace runs.
func Normalize(q string) string {
	decomposed := norm.NFD.String(strings.ToLower(q))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from the decomposition
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '?':
			// its own token, so "how does this work?" still signals a question
			b.WriteString(" ? ")
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens normalizes and splits a query.
func Tokens(q string) []string {
	n := Normalize(q)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// langModel holds word-conditional label counts for one language. The
// counts come from hand-labelled gateway query logs, pruned to words that
// discriminate.
type langModel struct {
	intents map[string]map[string]int
	targets map[string]map[string]int
}

var langModels = map[string]*langModel{
	"en": {
		intents: map[string]map[string]int{
			IntentNavigation: {"home": 6, "homepage": 8, "website": 7, "site": 6, "page": 4, "official": 5, "www": 6, "login": 4, "portal": 4},
			IntentQuestion:   {"what": 9, "how": 9, "why": 8, "when": 7, "where": 7, "who": 7, "which": 5, "does": 4, "can": 3, "is": 2, "are": 2, "?": 9},
			IntentContent:    {"photo": 7, "photos": 7, "picture": 7, "pictures": 7, "image": 6, "images": 6, "video": 7, "videos": 7, "wallpaper": 6, "song": 5, "music": 5, "movie": 5},
			IntentDiscover:   {"explore": 8, "discover": 8, "browse": 7, "new": 4, "latest": 6, "trending": 7, "popular": 6, "random": 5, "interesting": 5},
			IntentDownload:   {"download": 9, "get": 3, "free": 4, "pdf": 5, "ebook": 6, "epub": 6, "zip": 5, "installer": 6, "iso": 5, "torrent": 4},
			IntentAction:     {"convert": 7, "translate": 7, "calculate": 7, "generate": 6, "create": 5, "make": 4, "compress": 6, "resize": 6},
		},
		targets: map[string]map[string]int{
			TargetSite:  {"site": 8, "website": 9, "homepage": 8, "blog": 6, "portal": 6, "page": 5, "www": 6},
			TargetImage: {"image": 8, "images": 8, "photo": 8, "photos": 8, "picture": 8, "pictures": 8, "wallpaper": 7, "png": 6, "jpg": 6, "jpeg": 6, "icon": 5},
			TargetDoc:   {"pdf": 8, "doc": 7, "docx": 7, "paper": 6, "document": 8, "book": 6, "ebook": 7, "epub": 7, "manual": 6, "guide": 5, "whitepaper": 7},
			TargetCode:  {"code": 8, "source": 6, "library": 5, "repo": 7, "repository": 7, "script": 6, "golang": 6, "python": 6, "javascript": 6, "api": 4},
			TargetFile:  {"file": 8, "files": 8, "zip": 7, "archive": 7, "iso": 6, "dataset": 6, "backup": 5, "dump": 5},
			TargetMedia: {"video": 8, "videos": 8, "movie": 7, "audio": 7, "music": 7, "song": 7, "mp3": 7, "mp4": 7, "podcast": 6, "stream": 5},
		},
	},
	"es": {
		intents: map[string]map[string]int{
			IntentNavigation: {"inicio": 7, "pagina": 6, "sitio": 7, "oficial": 5, "portal": 5, "web": 5},
			IntentQuestion:   {"que": 8, "como": 9, "por": 4, "cuando": 7, "donde": 7, "quien": 7, "cual": 5, "?": 9},
			IntentContent:    {"foto": 7, "fotos": 7, "imagen": 7, "imagenes": 7, "video": 7, "videos": 7, "cancion": 5, "musica": 5, "pelicula": 5},
			IntentDiscover:   {"explorar": 8, "descubrir": 8, "nuevo": 5, "reciente": 6, "popular": 6, "tendencias": 7},
			IntentDownload:   {"descargar": 9, "descarga": 8, "gratis": 5, "pdf": 5, "libro": 5},
			IntentAction:     {"convertir": 7, "traducir": 7, "calcular": 7, "generar": 6, "crear": 5},
		},
		targets: map[string]map[string]int{
			TargetSite:  {"sitio": 8, "web": 7, "pagina": 7, "blog": 6, "portal": 6},
			TargetImage: {"imagen": 8, "imagenes": 8, "foto": 8, "fotos": 8, "fondo": 6},
			TargetDoc:   {"pdf": 8, "documento": 8, "libro": 7, "manual": 6, "guia": 5},
			TargetCode:  {"codigo": 8, "fuente": 6, "script": 6},
			TargetFile:  {"archivo": 8, "archivos": 8, "zip": 7},
			TargetMedia: {"video": 8, "videos": 8, "pelicula": 7, "audio": 7, "musica": 7, "cancion": 7},
		},
	},
}

// Classification is the classifier's read of a query.
type Classification struct {
	Intent           string
	IntentConfidence float64
	Target           string
	TargetConfidence float64
}

// Classify scores a token list against the per-language count tables.
// Summed counts over words pick the label; confidence is max/sum across
// labels, and labels below the gate fall back to unknown/mixed.
func Classify(tokens []string, lang string) Classification {
	m, ok := langModels[lang]
	if !ok {
		m = langModels["en"]
	}

	out := Classification{Intent: IntentUnknown, Target: TargetMixed}
	if len(tokens) == 0 {
		return out
	}

	if label, conf := argmax(m.intents, tokens); conf >= minConfidence {
		out.Intent = label
		out.IntentConfidence = conf
	} else {
		out.IntentConfidence = conf
	}
	if label, conf := argmax(m.targets, tokens); conf >= minConfidence {
		out.Target = label
		out.TargetConfidence = conf
	} else {
		out.TargetConfidence = conf
	}
	return out
}

func argmax(table map[string]map[string]int, tokens []string) (string, float64) {
	var (
		best      string
		bestScore int
		total     int
	)
	for label, counts := range table {
		score := 0
		for _, tok := range tokens {
			score += counts[tok]
		}
		total += score
		if score > bestScore || (score == bestScore && score > 0 && label < best) {
			best, bestScore = label, score
		}
	}
	if bestScore == 0 || total == 0 {
		return "", 0
	}
	return best, float64(bestScore) / float64(total)
}
