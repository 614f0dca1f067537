package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"log"
	"math"
	"net/http"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"rag-engine/config"
	"rag-engine/internal/models"
)

// Page image constraints for the vision models.
const (
	MinPageEdge  = 200
	MaxPageEdge  = 1568
	MaxShortEdge = 768

	// MinAltTextLength is the shortest normalized alt text worth keeping.
	MinAltTextLength = 10
)

// visionFormats are accepted by the vision models as-is; everything else is
// re-encoded to PNG.
var visionFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// FitPageDimensions scales (w, h) preserving aspect ratio so that both edges
// land within [MinPageEdge, MaxPageEdge] and the short edge stays at or under
// MaxShortEdge. Images below the minimum are scaled up. When an extreme
// aspect ratio makes the constraints conflict, the maximum caps win.
func FitPageDimensions(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return MinPageEdge, MinPageEdge
	}
	fw, fh := float64(w), float64(h)
	long := math.Max(fw, fh)
	short := math.Min(fw, fh)

	scale := 1.0
	if short < MinPageEdge {
		scale = MinPageEdge / short
	}
	if long*scale > MaxPageEdge {
		scale = MaxPageEdge / long
	}
	if short*scale > MaxShortEdge {
		scale = MaxShortEdge / short
	}

	return int(math.Round(fw * scale)), int(math.Round(fh * scale))
}

// VisualExtractor turns a visual-lane document into page images plus their
// text-projection chunk drafts. Rendering is delegated to the parser sidecar;
// sizing, format normalization, dedup and alt-text filtering happen here.
type VisualExtractor struct {
	parser ParserClientInterface
	vision VisionServiceInterface
	logger *log.Logger
}

// NewVisualExtractor creates a visual extractor.
func NewVisualExtractor(parser ParserClientInterface, vision VisionServiceInterface, logger *log.Logger) *VisualExtractor {
	if logger == nil {
		logger = log.New(log.Writer(), "[VISUAL] ", log.LstdFlags)
	}
	return &VisualExtractor{
		parser: parser,
		vision: vision,
		logger: logger,
	}
}

// ExtractPages renders, normalizes and transcribes every page. The optional
// checkpoint runs between pages; a non-nil return aborts the remaining pages
// so cancellation can interrupt long documents. Duplicate page images within
// the document are transcribed once.
func (e *VisualExtractor) ExtractPages(ctx context.Context, doc *models.Document, data []byte, checkpoint func() error) ([]models.ChunkDraft, []*models.PageImage, error) {
	filename := path.Base(doc.StorageKey)
	rendered, err := e.parser.RenderPages(ctx, data, filename, 0)
	if err != nil {
		return nil, nil, err
	}

	drafts := make([]models.ChunkDraft, 0, len(rendered.Pages))
	pages := make([]*models.PageImage, 0, len(rendered.Pages))
	seen := make(map[string]bool)

	for i, page := range rendered.Pages {
		if checkpoint != nil && i > 0 {
			if err := checkpoint(); err != nil {
				return drafts, pages, err
			}
		}

		img, err := e.normalizePage(&page)
		if err != nil {
			e.logger.Printf("Page %d of %s dropped: %v", page.Page, doc.ID, err)
			continue
		}
		if seen[img.Hash] {
			e.logger.Printf("Page %d of %s is a duplicate of an earlier page (hash %s)", page.Page, doc.ID, img.Hash)
			continue
		}
		seen[img.Hash] = true
		img.AltText = filterAltText(page.AltText)

		desc, err := e.vision.DescribeImage(ctx, img.Data, "image/"+img.Format)
		if err != nil {
			return nil, nil, err
		}

		drafts = append(drafts, models.ChunkDraft{
			Content:  visualChunkContent(desc, img.AltText),
			URL:      fmt.Sprintf("%s/%s#page=%d", doc.StorageBucket, doc.StorageKey, img.Page),
			Location: models.ChunkLocation{Page: intPtr(img.Page)},
			CanSplit: true,
			Tokens:   &img.Tokens,
		})
		pages = append(pages, img)
	}

	e.logger.Printf("Visual %s: %d rendered pages -> %d kept", doc.ID, len(rendered.Pages), len(pages))
	return drafts, pages, nil
}

// normalizePage fits the page image into the size envelope and a supported
// format, then hashes it and computes both token estimates.
func (e *VisualExtractor) normalizePage(page *RenderedPage) (*models.PageImage, error) {
	if len(page.Data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	sniffed := http.DetectContentType(page.Data)
	format, supported := visionFormats[sniffed]

	width, height := page.Width, page.Height
	targetW, targetH := FitPageDimensions(width, height)
	needsScale := targetW != width || targetH != height

	out := page.Data
	if needsScale || !supported {
		decoded, _, err := image.Decode(bytes.NewReader(page.Data))
		if err != nil {
			if supported {
				// No decoder for this one (webp); keep it unscaled rather
				// than lose the page.
				e.logger.Printf("Page %d kept at %dx%d, no decoder for %s", page.Page, width, height, sniffed)
				needsScale = false
			} else {
				return nil, fmt.Errorf("undecodable image (%s): %w", sniffed, err)
			}
		} else {
			if needsScale {
				decoded = scaleImage(decoded, targetW, targetH)
				width, height = targetW, targetH
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, decoded); err != nil {
				return nil, fmt.Errorf("png encode: %w", err)
			}
			out = buf.Bytes()
			format = "png"
		}
	}

	sum := sha256.Sum256(out)
	return &models.PageImage{
		Page:   page.Page,
		Width:  width,
		Height: height,
		Format: format,
		Data:   out,
		Hash:   hex.EncodeToString(sum[:])[:16],
		Tokens: models.PageTokens{
			Flat:  flatTokens(width, height),
			Tiled: tiledTokens(width, height),
		},
	}, nil
}

// scaleImage resamples to (w, h) with nearest-neighbor mapping. None of the
// render paths need more fidelity than the vision encoders themselves apply.
func scaleImage(src image.Image, w, h int) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/h
		for x := 0; x < w; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/w
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

// flatTokens is ceil(w*h/750).
func flatTokens(w, h int) int {
	return int(math.Ceil(float64(w) * float64(h) / 750))
}

// tiledTokens is 85 + 170 per 512px tile in each direction.
func tiledTokens(w, h int) int {
	return 85 + 170*int(math.Ceil(float64(w)/512))*int(math.Ceil(float64(h)/512))
}

// filterAltText normalizes the alt text and drops it unless it is long
// enough and not auto-generator noise. Returns "" when rejected.
func filterAltText(alt string) string {
	normalized := strings.Join(strings.Fields(alt), " ")
	if len(normalized) < MinAltTextLength {
		return ""
	}
	if config.IsBlockedAltText(normalized) {
		return ""
	}
	return normalized
}

// visualChunkContent assembles the text projection of one page visual.
func visualChunkContent(desc *VisualDescription, altText string) string {
	var sb strings.Builder
	sb.WriteString(desc.Type)
	sb.WriteString(": ")
	sb.WriteString(desc.Title)
	sb.WriteString("\n")
	sb.WriteString(desc.Transcription)
	if altText != "" {
		sb.WriteString("\n")
		sb.WriteString(altText)
	}
	return sb.String()
}
