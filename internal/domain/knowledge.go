package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceType identifies where a knowledge item originates
type SourceType string

const (
	SourceTypeArticle        SourceType = "article"
	SourceTypeWikiPage       SourceType = "wiki_page"
	SourceTypeReferenceRow   SourceType = "reference_row"
	SourceTypeTicketSolution SourceType = "ticket_solution"
)

// AllSourceTypes lists every source type in context-assembly priority order:
// reference rows first, curated articles last.
var AllSourceTypes = []SourceType{
	SourceTypeReferenceRow,
	SourceTypeTicketSolution,
	SourceTypeWikiPage,
	SourceTypeArticle,
}

// MetadataField is a single auxiliary key/value pair. Metadata is kept as an
// ordered slice rather than a map so persisted items round-trip in a stable
// order.
type MetadataField struct {
	Key   string
	Value string
}

// KnowledgeItem is the unified representation of any retrievable unit:
// a curated article, a wiki page, a reference spreadsheet row, or a
// resolved-ticket solution.
type KnowledgeItem struct {
	ID              string
	SourceType      SourceType
	Title           string
	Body            string
	Keywords        []string
	Metadata        []MetadataField
	SearchableText  string
	ContentChecksum string
	Embedding       []float32
	ValidationCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewKnowledgeItem creates a KnowledgeItem with its searchable projection
// already derived.
func NewKnowledgeItem(id string, sourceType SourceType, title, body string, keywords []string, metadata []MetadataField, now time.Time) *KnowledgeItem {
	item := &KnowledgeItem{
		ID:         id,
		SourceType: sourceType,
		Title:      title,
		Body:       body,
		Keywords:   keywords,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	item.RefreshSearchableText()
	return item
}

// RefreshSearchableText rebuilds the searchable projection and its checksum.
// A changed checksum invalidates any previously computed embedding.
func (k *KnowledgeItem) RefreshSearchableText() {
	text := BuildSearchableText(k)
	checksum := ChecksumText(text)
	if checksum != k.ContentChecksum {
		k.Embedding = nil
	}
	k.SearchableText = text
	k.ContentChecksum = checksum
}

// HasEmbedding reports whether a current embedding is attached.
func (k *KnowledgeItem) HasEmbedding() bool {
	return len(k.Embedding) > 0
}

// MetadataValue returns the first metadata value for key, or "".
func (k *KnowledgeItem) MetadataValue(key string) string {
	for _, f := range k.Metadata {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// AddKeyword appends a keyword to the item and refreshes the searchable
// projection. Adding an already-present keyword is a no-op; the returned
// bool reports whether the item changed.
func (k *KnowledgeItem) AddKeyword(keyword string) bool {
	keyword = strings.TrimSpace(strings.ToLower(keyword))
	if keyword == "" {
		return false
	}
	for _, existing := range k.Keywords {
		if strings.EqualFold(existing, keyword) {
			return false
		}
	}
	k.Keywords = append(k.Keywords, keyword)
	k.UpdatedAt = time.Now().UTC()
	k.RefreshSearchableText()
	return true
}

// BuildSearchableText derives the lowercased projection used for both keyword
// matching and embedding input: title, body, keywords, then metadata values.
func BuildSearchableText(k *KnowledgeItem) string {
	var parts []string

	if k.Title != "" {
		parts = append(parts, k.Title)
	}
	if k.Body != "" {
		parts = append(parts, k.Body)
	}
	if len(k.Keywords) > 0 {
		parts = append(parts, strings.Join(k.Keywords, " "))
	}
	for _, f := range k.Metadata {
		if f.Value != "" {
			parts = append(parts, f.Value)
		}
	}

	return strings.ToLower(strings.Join(parts, "\n"))
}

// ChecksumText returns a stable hex checksum of the given text.
func ChecksumText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ValidateKnowledgeItem validates a KnowledgeItem instance
func ValidateKnowledgeItem(k *KnowledgeItem) error {
	if k == nil {
		return fmt.Errorf("knowledge item cannot be nil")
	}

	if k.ID == "" {
		return fmt.Errorf("knowledge item ID is required")
	}

	if !IsValidSourceType(k.SourceType) {
		return fmt.Errorf("knowledge item SourceType is invalid: %s", k.SourceType)
	}

	if k.Title == "" && k.Body == "" {
		return fmt.Errorf("knowledge item must have a title or a body")
	}

	if k.ValidationCount < 0 {
		return fmt.Errorf("knowledge item ValidationCount cannot be negative")
	}

	return nil
}

// IsValidSourceType checks if a SourceType is valid
func IsValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeArticle, SourceTypeWikiPage, SourceTypeReferenceRow, SourceTypeTicketSolution:
		return true
	}
	return false
}
