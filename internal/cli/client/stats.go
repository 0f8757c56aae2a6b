package client

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// StatsResponse represents the stats API response.
type StatsResponse struct {
	TotalFeedback      int                    `json:"total_feedback"`
	HelpfulCount       int                    `json:"helpful_count"`
	UnhelpfulCount     int                    `json:"unhelpful_count"`
	PendingReview      int                    `json:"pending_review"`
	AppliedCount       int                    `json:"applied_count"`
	DismissedCount     int                    `json:"dismissed_count"`
	CachedResponses    int                    `json:"cached_responses"`
	AppliedKeywords    int                    `json:"applied_keywords"`
	FailurePatterns    int                    `json:"failure_patterns"`
	AlertedPatterns    int                    `json:"alerted_patterns"`
	KeywordSuggestions []KeywordSuggestion    `json:"keyword_suggestions"`
	CacheSize          int                    `json:"cache_size"`
	Sources            map[string]SourceStats `json:"sources"`
}

// KeywordSuggestion is a pending keyword enrichment.
type KeywordSuggestion struct {
	ItemID  string `json:"item_id"`
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// SourceStats describes one knowledge source's load state.
type SourceStats struct {
	Ready bool `json:"ready"`
	Items int  `json:"items"`
}

// StatsCmd creates the stats command.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show learning and cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runStats(outputJSON)
		},
	}
}

func runStats(outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get("/stats")
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	var stats StatsResponse
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse stats: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Feedback: %d total (%d helpful, %d unhelpful, %d pending review)\n",
		stats.TotalFeedback, stats.HelpfulCount, stats.UnhelpfulCount, stats.PendingReview)
	fmt.Printf("Learning: %d keywords applied, %d responses cached from feedback\n",
		stats.AppliedKeywords, stats.CachedResponses)
	fmt.Printf("Failures: %d patterns tracked, %d alerted\n",
		stats.FailurePatterns, stats.AlertedPatterns)
	fmt.Printf("Cache:    %d entries\n", stats.CacheSize)

	if len(stats.Sources) > 0 {
		fmt.Println("Sources:")
		names := make([]string, 0, len(stats.Sources))
		for name := range stats.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			src := stats.Sources[name]
			state := "loading"
			if src.Ready {
				state = "ready"
			}
			fmt.Printf("  %-16s %s (%d items)\n", name, state, src.Items)
		}
	}

	if len(stats.KeywordSuggestions) > 0 {
		fmt.Println("Pending keyword suggestions:")
		for _, s := range stats.KeywordSuggestions {
			fmt.Printf("  %s -> %q (%d corrections)\n", s.ItemID, s.Keyword, s.Count)
		}
	}

	return nil
}
