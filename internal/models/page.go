package models

// PageTokens carries the two per-page token count estimates used for
// downstream billing. Flat is ceil(w*h/750); Tiled is
// 85 + 170*ceil(w/512)*ceil(h/512).
type PageTokens struct {
	Flat  int `json:"flat"`
	Tiled int `json:"tiled"`
}

// PageImage is a rendered page before embedding: the re-encoded image bytes,
// their content hash and the alt text that survived filtering.
type PageImage struct {
	Page    int        `json:"page"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	Format  string     `json:"format"`
	Data    []byte     `json:"-"`
	Hash    string     `json:"hash"`
	AltText string     `json:"alt_text,omitempty"`
	Tokens  PageTokens `json:"tokens"`
}

// PageEmbedding holds the token-patch matrix for one page of a visual-lane
// document. Exactly one row exists per (document, page).
type PageEmbedding struct {
	DocumentID string      `json:"document_id"`
	Page       int         `json:"page"`
	Vectors    [][]float32 `json:"vectors"`
	Tokens     PageTokens  `json:"tokens"`
}

// Validate checks if the page embedding is valid
func (p *PageEmbedding) Validate() error {
	if p.DocumentID == "" {
		return &ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if p.Page < 1 {
		return &ValidationError{Field: "page", Message: "page must be positive"}
	}
	if len(p.Vectors) == 0 {
		return &ValidationError{Field: "vectors", Message: "at least one patch vector is required"}
	}
	dim := len(p.Vectors[0])
	if dim == 0 {
		return &ValidationError{Field: "vectors", Message: "patch vectors cannot be empty"}
	}
	for _, v := range p.Vectors {
		if len(v) != dim {
			return &ValidationError{Field: "vectors", Message: "patch vectors must share one dimension"}
		}
	}
	return nil
}
