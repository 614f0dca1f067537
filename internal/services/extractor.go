package services

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"rag-engine/config"
	"rag-engine/internal/models"
)

// DOCX MIME types handled by the word-processor path.
var docxMIMEs = map[string]bool{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
}

// TextExtractor turns a raw document into chunk drafts. Format decoding is
// delegated to the parser sidecar; every chunking decision happens here.
type TextExtractor struct {
	parser   ParserClientInterface
	splitter *Splitter
	logger   *log.Logger
}

// NewTextExtractor creates a text extractor.
func NewTextExtractor(parser ParserClientInterface, logger *log.Logger) *TextExtractor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &TextExtractor{
		parser:   parser,
		splitter: NewSplitter(),
		logger:   logger,
	}
}

// Extract dispatches on the document's MIME type (falling back to the file
// extension) and returns the drafts in reading order. Chunk IDs are assigned
// later by the embedding stage.
func (e *TextExtractor) Extract(ctx context.Context, doc *models.Document, data []byte) ([]models.ChunkDraft, error) {
	filename := path.Base(doc.StorageKey)
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case doc.MIME == "application/pdf" || ext == ".pdf":
		return e.extractPDF(ctx, data, filename)
	case docxMIMEs[doc.MIME] || ext == ".docx" || ext == ".doc":
		return e.extractDOCX(ctx, data, filename)
	case config.SpreadsheetMIMEs[doc.MIME] || config.SpreadsheetExtensions[ext]:
		return e.extractXLSX(ctx, data, filename)
	default:
		return e.extractPlain(data)
	}
}

// extractPDF chunks a PDF page at a time. Short pages become one chunk;
// oversized pages go through the splitter with the page number kept on every
// piece.
func (e *TextExtractor) extractPDF(ctx context.Context, data []byte, filename string) ([]models.ChunkDraft, error) {
	parsed, err := e.parser.ParsePDF(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	drafts := make([]models.ChunkDraft, 0, len(parsed.Pages))
	for _, page := range parsed.Pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		pageNum := page.Number

		if len(text) <= MinChunkSize {
			drafts = append(drafts, models.ChunkDraft{
				Content:  text,
				Location: models.ChunkLocation{Page: intPtr(pageNum)},
				CanSplit: true,
			})
			continue
		}

		pieces, err := e.splitter.Split(text)
		if err != nil {
			return nil, err
		}
		for _, piece := range pieces {
			drafts = append(drafts, models.ChunkDraft{
				Content: piece.Content,
				Location: models.ChunkLocation{
					Page:         intPtr(pageNum),
					NCharIndex:   intPtr(piece.NCharIndex),
					ContentIndex: intPtr(piece.ContentIndex),
				},
				CanSplit: true,
			})
		}
	}

	e.logger.Printf("PDF %s: %d pages -> %d chunks", filename, parsed.TotalPages, len(drafts))
	return drafts, nil
}

// paragraphMark remembers where a paragraph starts in the concatenated
// normalized text, and which section/paragraph it is.
type paragraphMark struct {
	offset    int
	section   int
	paragraph int
}

// extractDOCX concatenates all paragraphs, splits once, then back-annotates
// each piece with the section and paragraph at which it begins. The section
// counter rises on every Heading-styled paragraph.
func (e *TextExtractor) extractDOCX(ctx context.Context, data []byte, filename string) ([]models.ChunkDraft, error) {
	parsed, err := e.parser.ParseDOCX(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	var builder strings.Builder
	marks := make([]paragraphMark, 0, len(parsed.Paragraphs))
	section := 0
	for i, para := range parsed.Paragraphs {
		if strings.HasPrefix(para.Style, "Heading") {
			section++
		}
		// Normalize exactly like the splitter so offsets line up.
		text := strings.Join(strings.Fields(para.Text), " ")
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		marks = append(marks, paragraphMark{offset: builder.Len(), section: section, paragraph: i})
		builder.WriteString(text)
	}
	if builder.Len() == 0 {
		return []models.ChunkDraft{}, nil
	}

	pieces, err := e.splitter.Split(builder.String())
	if err != nil {
		return nil, err
	}

	drafts := make([]models.ChunkDraft, 0, len(pieces))
	for _, piece := range pieces {
		mark := markAt(marks, piece.NCharIndex)
		drafts = append(drafts, models.ChunkDraft{
			Content: piece.Content,
			Location: models.ChunkLocation{
				Section:      intPtr(mark.section),
				Paragraph:    intPtr(mark.paragraph),
				NCharIndex:   intPtr(piece.NCharIndex),
				ContentIndex: intPtr(piece.ContentIndex),
			},
			CanSplit: true,
		})
	}

	e.logger.Printf("DOCX %s: %d paragraphs, %d sections -> %d chunks",
		filename, len(parsed.Paragraphs), section, len(drafts))
	return drafts, nil
}

// markAt finds the last paragraph starting at or before the offset.
func markAt(marks []paragraphMark, offset int) paragraphMark {
	idx := sort.Search(len(marks), func(i int) bool {
		return marks[i].offset > offset
	})
	if idx == 0 {
		return marks[0]
	}
	return marks[idx-1]
}

// extractXLSX accumulates rows into chunks. A chunk is emitted once the
// buffered content reaches the minimum size; its location points at the row
// where the buffer started. Rows are never split across chunks.
func (e *TextExtractor) extractXLSX(ctx context.Context, data []byte, filename string) ([]models.ChunkDraft, error) {
	parsed, err := e.parser.ParseXLSX(ctx, data, filename)
	if err != nil {
		return nil, err
	}

	drafts := make([]models.ChunkDraft, 0)
	for _, sheet := range parsed.Sheets {
		var buffer strings.Builder
		startRow := 0

		flush := func() {
			if buffer.Len() == 0 {
				return
			}
			drafts = append(drafts, models.ChunkDraft{
				Content: buffer.String(),
				Location: models.ChunkLocation{
					SheetNumber: intPtr(sheet.Number),
					SheetName:   sheet.Name,
					RowNumber:   intPtr(startRow),
				},
				CanSplit: false,
			})
			buffer.Reset()
		}

		for i, row := range sheet.Rows {
			rowNum := i + 1
			text := renderRow(row)
			if text == "" {
				continue
			}
			if buffer.Len() == 0 {
				startRow = rowNum
			} else {
				buffer.WriteString("\n")
			}
			buffer.WriteString(text)

			if buffer.Len() >= MinChunkSize {
				flush()
			}
		}
		flush()
	}

	e.logger.Printf("XLSX %s: %d sheets -> %d chunks", filename, len(parsed.Sheets), len(drafts))
	return drafts, nil
}

// renderRow joins non-empty cells; a row with no content renders empty.
func renderRow(cells []string) string {
	parts := make([]string, 0, len(cells))
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			parts = append(parts, cell)
		}
	}
	return strings.Join(parts, " | ")
}

// extractPlain splits raw text directly.
func (e *TextExtractor) extractPlain(data []byte) ([]models.ChunkDraft, error) {
	if !utf8.Valid(data) {
		return nil, &models.ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("not valid UTF-8 text (%d bytes)", len(data)),
		}
	}

	pieces, err := e.splitter.Split(string(data))
	if err != nil {
		return nil, err
	}

	drafts := make([]models.ChunkDraft, 0, len(pieces))
	for _, piece := range pieces {
		drafts = append(drafts, models.ChunkDraft{
			Content: piece.Content,
			Location: models.ChunkLocation{
				NCharIndex:   intPtr(piece.NCharIndex),
				ContentIndex: intPtr(piece.ContentIndex),
			},
			CanSplit: true,
		})
	}
	return drafts, nil
}

func intPtr(v int) *int {
	return &v
}
