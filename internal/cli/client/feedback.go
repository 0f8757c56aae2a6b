package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// FeedbackRequest represents the feedback API request.
type FeedbackRequest struct {
	Query        string   `json:"query"`
	Response     string   `json:"response"`
	IsHelpful    bool     `json:"is_helpful"`
	SourcesUsed  []string `json:"sources_used,omitempty"`
	Specialist   string   `json:"specialist,omitempty"`
	TopScore     float32  `json:"top_score,omitempty"`
	Correction   string   `json:"correction,omitempty"`
	TargetItemID string   `json:"target_item_id,omitempty"`
}

// FeedbackResponse represents the feedback API response.
type FeedbackResponse struct {
	ID                string   `json:"id"`
	Status            string   `json:"status"`
	ExtractedKeywords []string `json:"extracted_keywords,omitempty"`
}

// FeedbackCmd creates the feedback command with its resolve subcommand.
func FeedbackCmd() *cobra.Command {
	var (
		query      string
		answer     string
		helpful    bool
		sources    []string
		specialist string
		topScore   float32
		correction string
		targetItem string
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Report whether an answer helped",
		Long:  "Records feedback on an answer. Unhelpful feedback with a correction teaches the assistant which item should have answered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			if answer == "" {
				return fmt.Errorf("--response is required")
			}
			return runFeedback(FeedbackRequest{
				Query:        query,
				Response:     answer,
				IsHelpful:    helpful,
				SourcesUsed:  sources,
				Specialist:   specialist,
				TopScore:     topScore,
				Correction:   correction,
				TargetItemID: targetItem,
			}, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "The question that was asked")
	cmd.Flags().StringVarP(&answer, "response", "r", "", "The answer that was given")
	cmd.Flags().BoolVar(&helpful, "helpful", false, "Mark the answer as helpful")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "IDs of the knowledge items behind the answer")
	cmd.Flags().StringVarP(&specialist, "specialist", "s", "", "Specialist that produced the answer")
	cmd.Flags().Float32Var(&topScore, "top-score", 0, "Top retrieval score behind the answer")
	cmd.Flags().StringVar(&correction, "correction", "", "What the answer should have covered")
	cmd.Flags().StringVar(&targetItem, "target-item", "", "ID of the item the answer should have come from")

	cmd.AddCommand(feedbackResolveCmd())

	return cmd
}

func runFeedback(req FeedbackRequest, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/feedback", req)
	if err != nil {
		return fmt.Errorf("feedback failed: %w", err)
	}

	var fb FeedbackResponse
	if err := json.Unmarshal(resp.Data, &fb); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(fb, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Feedback recorded (id: %s, status: %s)\n", fb.ID, fb.Status)
	if len(fb.ExtractedKeywords) > 0 {
		fmt.Printf("Suggested keywords: %s\n", strings.Join(fb.ExtractedKeywords, ", "))
	}
	return nil
}

func feedbackResolveCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Move a feedback record through its review lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch status {
			case "reviewed", "applied", "dismissed":
			default:
				return fmt.Errorf("invalid --status %q (expected reviewed, applied, or dismissed)", status)
			}

			api, err := NewAPIClient()
			if err != nil {
				return err
			}

			if _, err := api.Patch("/feedback/"+args[0], map[string]string{"status": status}); err != nil {
				return fmt.Errorf("resolve failed: %w", err)
			}

			fmt.Printf("Feedback %s marked %s\n", args[0], status)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "reviewed", "Target status: reviewed, applied, or dismissed")

	return cmd
}
