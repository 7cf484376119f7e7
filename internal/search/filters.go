package search

import (
	"strings"

	"github.com/lumen-network/lumen-gateway/pkg/models"
)

// previewableExts are the extensions that rescue an octet-stream hit: the
// UI can still render a preview for them.
var previewableExts = []string{".pdf", ".docx", ".epub", ".html", ".htm", ".txt"}

// pdfXrefMarkers identify PDF object-stream fragments the extractor
// sometimes indexes as standalone text.
var pdfXrefMarkers = []string{"xref", "startxref", "trailer", "/root", "/info", "/prev", "/size", "endobj", "obj"}

// zipBinaryMarkers show up when an EPUB preview is raw ZIP bytes.
var zipBinaryMarkers = []string{"mimetypeapplication/epub", "meta-inf/container", "oebps/", "\x00"}

// directoryListingTitles match generated IPFS directory pages.
var directoryListingTitles = []string{"index of", "directory listing", "files in"}

// suppress reports whether a hit should be dropped from results, with the
// reason for debug logging. These heuristics remove hits that can never
// render a useful preview.
func suppress(doc *models.IndexDoc, tags models.ParsedTags, snippet string) (bool, string) {
	title := strings.ToLower(strings.TrimSpace(firstNonEmpty(tags.Title, doc.Title)))
	snip := strings.ToLower(strings.TrimSpace(snippet))

	if doc.Mime == "application/octet-stream" && !previewableByPath(doc) {
		return true, "opaque_binary"
	}

	if looksLikePDFXref(tags, snip) {
		return true, "pdf_xref_fragment"
	}

	// Broken-PDF previews: the extractor flagged a failure and produced no
	// meaningful tokens to search against.
	if doc.IndexError != "" && isPDFish(doc) && countMeaningfulTokens(tags) == 0 {
		return true, "broken_pdf"
	}

	if isEPUBish(doc) && looksLikeZipBytes(snip) {
		return true, "epub_binary_preview"
	}

	if doc.Kind == "text" && lowSignalText(doc, tags, title, snip) {
		return true, "low_signal_text"
	}

	if isDirectoryListing(tags.ContentClass, title, snip) {
		return true, "directory_listing"
	}

	return false, ""
}

func previewableByPath(doc *models.IndexDoc) bool {
	path := strings.ToLower(doc.Path)
	ext := strings.ToLower(doc.ExtGuess)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, want := range previewableExts {
		if ext == want || strings.HasSuffix(path, want) {
			return true
		}
	}
	return false
}

// looksLikePDFXref fires when the indexable tokens are dominated by PDF
// cross-reference vocabulary, or the snippet is an xref table.
func looksLikePDFXref(tags models.ParsedTags, snip string) bool {
	if strings.HasPrefix(snip, "xref") || strings.Contains(snip, "startxref") {
		return true
	}
	if len(tags.Tokens) == 0 {
		return false
	}
	markers := 0
	for term := range tags.Tokens {
		for _, m := range pdfXrefMarkers {
			if term == m || strings.TrimPrefix(term, "/") == strings.TrimPrefix(m, "/") {
				markers++
				break
			}
		}
	}
	return markers*2 > len(tags.Tokens)
}

// countMeaningfulTokens counts tokens that are not PDF cross-reference
// vocabulary, so a failed extraction with only xref noise reads as empty.
func countMeaningfulTokens(tags models.ParsedTags) int {
	n := 0
	for term := range tags.Tokens {
		marker := false
		for _, m := range pdfXrefMarkers {
			if term == m || strings.TrimPrefix(term, "/") == strings.TrimPrefix(m, "/") {
				marker = true
				break
			}
		}
		if !marker {
			n++
		}
	}
	return n
}

func isPDFish(doc *models.IndexDoc) bool {
	return doc.Mime == "application/pdf" ||
		strings.EqualFold(doc.ExtGuess, "pdf") ||
		strings.HasSuffix(strings.ToLower(doc.Path), ".pdf")
}

func isEPUBish(doc *models.IndexDoc) bool {
	return doc.Mime == "application/epub+zip" ||
		strings.EqualFold(doc.ExtGuess, "epub") ||
		strings.HasSuffix(strings.ToLower(doc.Path), ".epub")
}

// looksLikeZipBytes detects previews that start with the ZIP magic ("PK")
// or carry EPUB container internals.
func looksLikeZipBytes(snip string) bool {
	if strings.HasPrefix(snip, "pk") && len(snip) > 2 && !strings.HasPrefix(snip, "pkg") {
		return true
	}
	for _, m := range zipBinaryMarkers {
		if strings.Contains(snip, m) {
			return true
		}
	}
	return false
}

// lowSignalText drops text hits with nothing to show: no path, no title,
// no snippet, and a token set dominated by multi-word classifier labels
// rather than real content words.
func lowSignalText(doc *models.IndexDoc, tags models.ParsedTags, title, snip string) bool {
	if doc.Path != "" || title != "" || snip != "" {
		return false
	}
	if len(tags.Tokens) == 0 {
		return true
	}
	multiWord := 0
	for term := range tags.Tokens {
		if strings.ContainsAny(term, " _-") && strings.Count(term, " ")+strings.Count(term, "_")+strings.Count(term, "-") >= 1 {
			multiWord++
		}
	}
	return multiWord*2 > len(tags.Tokens)
}

// isDirectoryListing recognizes generated directory pages by classifier
// output, title shape, or snippet shape.
func isDirectoryListing(contentClass, title, snip string) bool {
	if strings.EqualFold(contentClass, "directory_listing") || strings.EqualFold(contentClass, "dir-listing") {
		return true
	}
	for _, prefix := range directoryListingTitles {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	// Generated listings repeat size/date columns and parent-dir links.
	if strings.Contains(snip, "parent directory") ||
		(strings.Contains(snip, "..") && strings.Contains(snip, "last modified")) {
		return true
	}
	return false
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
