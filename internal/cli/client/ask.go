package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest represents the chat API request.
type AskRequest struct {
	Query string `json:"query"`
}

// SourceRef identifies a knowledge item behind an answer.
type SourceRef struct {
	ID         string `json:"id"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
}

// AskResponse represents the chat API response.
type AskResponse struct {
	Response   string      `json:"response"`
	Specialist string      `json:"specialist"`
	Sources    []SourceRef `json:"sources"`
	FromCache  bool        `json:"from_cache"`
	Structured bool        `json:"structured"`
}

type askStreamChunk struct {
	Delta  string       `json:"delta,omitempty"`
	Done   bool         `json:"done,omitempty"`
	Error  string       `json:"error,omitempty"`
	Result *AskResponse `json:"result,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the support assistant a question",
		Long:  "Sends a question to the assistant and prints the answer with its sources.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			question := strings.Join(args, " ")
			if stream {
				return runAskStream(question)
			}
			return runAsk(question, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer as it is generated")

	return cmd
}

func runAsk(question string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/chat", AskRequest{Query: question})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	var answer AskResponse
	if err := json.Unmarshal(resp.Data, &answer); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(answer.Response)
	printAnswerFooter(&answer)
	return nil
}

func runAskStream(question string) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	var result *AskResponse
	err = api.PostStream("/chat/stream", AskRequest{Query: question}, func(line []byte) error {
		var chunk askStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("stream failed: %s", chunk.Error)
		}
		if chunk.Delta != "" {
			fmt.Print(chunk.Delta)
		}
		if chunk.Done {
			result = chunk.Result
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println()
	if result != nil {
		printAnswerFooter(result)
	}
	return nil
}

func printAnswerFooter(answer *AskResponse) {
	fmt.Println()
	fmt.Printf("Specialist: %s", answer.Specialist)
	if answer.FromCache {
		fmt.Print(" (cached)")
	}
	fmt.Println()

	if len(answer.Sources) > 0 {
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			fmt.Printf("  - %s [%s] %s\n", src.ID, src.SourceType, src.Title)
		}
	}
}
