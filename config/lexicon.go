package config

import "strings"

// StopWords is the fixed list used by the BM25 tokenizer. Terms in this set
// never reach the index, so changing it invalidates existing term stats.
var StopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
	"this": true, "that": true, "these": true, "those": true, "i": true, "you": true,
	"he": true, "she": true, "it": true, "we": true, "they": true, "my": true,
	"your": true, "his": true, "her": true, "its": true, "our": true, "their": true,
	"as": true, "if": true, "from": true, "not": true, "no": true, "so": true,
}

// VisualFilenameKeywords route a document to the visual lane when any of them
// appears in the lowercased filename.
var VisualFilenameKeywords = []string{
	"form", "invoice", "receipt", "application", "claim", "tax",
}

// PresentationExtensions and PresentationMIMEs identify slide decks, which are
// always processed page-by-page.
var PresentationExtensions = map[string]bool{
	".ppt": true, ".pptx": true, ".odp": true, ".key": true,
}

var PresentationMIMEs = map[string]bool{
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.presentation":                           true,
}

// SourceCodeExtensions is a broad allowlist of extensions treated as text.
var SourceCodeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".go": true, ".rs": true, ".rb": true, ".php": true, ".cs": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".sql": true,
	".yaml": true, ".yml": true, ".json": true, ".xml": true, ".html": true, ".css": true,
}

// PlainTextExtensions covers prose-like formats handled by the plain handler.
var PlainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
}

var SpreadsheetExtensions = map[string]bool{
	".xls": true, ".xlsx": true, ".ods": true,
}

var SpreadsheetMIMEs = map[string]bool{
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.oasis.opendocument.spreadsheet":                    true,
}

// AltTextBlocklist holds lowercase substrings that mark an alt text as
// auto-generated noise rather than a human caption.
var AltTextBlocklist = []string{
	"description automatically generated",
	"chart description",
	"logo description",
	"diagram description",
	"graphical user interface",
	"a picture containing",
	"a close up of",
	"a screenshot of a",
}

// AltTextBareWords are rejected outright when they make up the whole alt text.
var AltTextBareWords = map[string]bool{
	"chart": true, "image": true, "logo": true, "icon": true,
	"photo": true, "picture": true, "graphic": true, "diagram": true,
}

// IsBlockedAltText reports whether the normalized alt text matches the
// auto-generator blocklist.
func IsBlockedAltText(normalized string) bool {
	lower := strings.ToLower(normalized)
	if AltTextBareWords[lower] {
		return true
	}
	for _, pattern := range AltTextBlocklist {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
