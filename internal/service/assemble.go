package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

const (
	defaultContextBudgetChars = 8000
	// Fragments shorter than this are dropped instead of truncated further.
	minFragmentChars = 200
)

var sourceHeadings = map[domain.SourceType]string{
	domain.SourceTypeReferenceRow:   "Reference data",
	domain.SourceTypeTicketSolution: "Resolved ticket",
	domain.SourceTypeWikiPage:       "Wiki page",
	domain.SourceTypeArticle:        "Knowledge article",
}

// AssemblerConfig bounds the assembled context block.
type AssemblerConfig struct {
	BudgetChars int
	PerItemCaps map[domain.SourceType]int
}

// DefaultAssemblerConfig returns the default budget and per-item caps.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		BudgetChars: defaultContextBudgetChars,
		PerItemCaps: map[domain.SourceType]int{
			domain.SourceTypeReferenceRow:   600,
			domain.SourceTypeTicketSolution: 1200,
			domain.SourceTypeWikiPage:       2000,
			domain.SourceTypeArticle:        1500,
		},
	}
}

// ContextAssembler merges per-source search results into one bounded prompt
// context, highest-priority sources first.
type ContextAssembler struct {
	cfg AssemblerConfig
}

// NewContextAssembler creates a ContextAssembler with default bounds.
func NewContextAssembler() *ContextAssembler {
	return NewContextAssemblerWithConfig(DefaultAssemblerConfig())
}

// NewContextAssemblerWithConfig creates a ContextAssembler with explicit bounds.
func NewContextAssemblerWithConfig(cfg AssemblerConfig) *ContextAssembler {
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = defaultContextBudgetChars
	}
	if cfg.PerItemCaps == nil {
		cfg.PerItemCaps = DefaultAssemblerConfig().PerItemCaps
	}
	return &ContextAssembler{cfg: cfg}
}

// BuildContext concatenates results under the character budget, walking
// sources in priority order (reference rows, tickets, wiki pages, articles)
// so lower-priority sources never displace higher-priority ones. It returns
// the assembled block and the ids of the items actually included, for
// feedback provenance.
func (a *ContextAssembler) BuildContext(perSource map[domain.SourceType][]*domain.SearchResult) (string, []string) {
	var sb strings.Builder
	var usedIDs []string
	remaining := a.cfg.BudgetChars

	for _, sourceType := range domain.AllSourceTypes {
		results := perSource[sourceType]
		if len(results) == 0 {
			continue
		}

		// Boosted score is the assembler's sort key.
		ordered := make([]*domain.SearchResult, len(results))
		copy(ordered, results)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].BoostedScore > ordered[j].BoostedScore
		})

		for _, result := range ordered {
			if result == nil || result.Item == nil {
				continue
			}
			fragment := a.renderFragment(result.Item)
			if len(fragment) > remaining {
				if remaining < minFragmentChars {
					break
				}
				fragment = truncateFragment(fragment, remaining)
			}
			sb.WriteString(fragment)
			usedIDs = append(usedIDs, result.Item.ID)
			remaining -= len(fragment)
		}

		if remaining < minFragmentChars {
			break
		}
	}

	return sb.String(), usedIDs
}

func (a *ContextAssembler) renderFragment(item *domain.KnowledgeItem) string {
	limit, ok := a.cfg.PerItemCaps[item.SourceType]
	if !ok {
		limit = 1000
	}

	body := strings.TrimSpace(item.Body)
	if len(body) > limit {
		body = cutAtRuneBoundary(body, limit-3) + "..."
	}

	var sb strings.Builder
	sb.WriteString("### ")
	sb.WriteString(sourceHeadings[item.SourceType])
	if item.Title != "" {
		sb.WriteString(": ")
		sb.WriteString(item.Title)
	}
	sb.WriteString("\n")
	if url := item.MetadataValue("url"); url != "" {
		sb.WriteString("Source: ")
		sb.WriteString(url)
		sb.WriteString("\n")
	}
	sb.WriteString(body)
	sb.WriteString("\n\n")
	return sb.String()
}

func truncateFragment(fragment string, limit int) string {
	if limit <= 5 {
		return ""
	}
	return cutAtRuneBoundary(fragment, limit-5) + "...\n\n"
}

// cutAtRuneBoundary truncates s to at most n bytes without splitting a
// multibyte rune.
func cutAtRuneBoundary(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
