package services

import (
	"log"
	"path"
	"strings"

	"rag-engine/config"
	"rag-engine/internal/models"
)

// visualPDFSizeThreshold routes large PDFs to the visual lane; past this
// size they are usually image-heavy scans.
const visualPDFSizeThreshold = 10 * 1024 * 1024

// Classifier decides which processing lane a document takes. The decision is
// a pure function of the object key, its MIME type, its metadata and its
// size; the rule order is load-bearing because it shards the lane queues.
type Classifier struct {
	logger *log.Logger
}

// NewClassifier creates a new document classifier.
func NewClassifier(logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[CLASSIFIER] ", log.LstdFlags)
	}
	return &Classifier{logger: logger}
}

// Classify returns the lane for a document. First matching rule wins:
//
//  1. presentations (MIME or extension)         -> visual
//  2. filename keywords (form, invoice, ...)    -> visual
//  3. explicit scanned hint in metadata         -> visual
//  4. PDF larger than 10 MB                     -> visual
//  5. source code extensions                    -> text
//  6. plain text, markdown, csv, tsv            -> text
//  7. spreadsheets                              -> text
//  8. everything else                           -> text
//
// Any panic while classifying falls back to the text lane.
func (c *Classifier) Classify(key, mime string, metadata map[string]string, size int64) (lane models.Lane) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("classify panic for %q, defaulting to text lane: %v", key, r)
			lane = models.LaneText
		}
	}()

	filename := strings.ToLower(path.Base(key))
	ext := path.Ext(filename)
	mime = strings.ToLower(mime)

	if config.PresentationMIMEs[mime] || config.PresentationExtensions[ext] {
		return models.LaneVisual
	}

	for _, keyword := range config.VisualFilenameKeywords {
		if strings.Contains(filename, keyword) {
			return models.LaneVisual
		}
	}

	if isScannedHint(metadata) {
		return models.LaneVisual
	}

	isPDF := mime == "application/pdf" || ext == ".pdf"
	if isPDF && size > visualPDFSizeThreshold {
		return models.LaneVisual
	}

	if config.SourceCodeExtensions[ext] {
		return models.LaneText
	}

	if config.PlainTextExtensions[ext] || strings.HasPrefix(mime, "text/") {
		return models.LaneText
	}

	if config.SpreadsheetMIMEs[mime] || config.SpreadsheetExtensions[ext] {
		return models.LaneText
	}

	return models.LaneText
}

// isScannedHint reports whether upload metadata marks the object as scanned.
func isScannedHint(metadata map[string]string) bool {
	for key, value := range metadata {
		if strings.ToLower(key) != "scanned" {
			continue
		}
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}
