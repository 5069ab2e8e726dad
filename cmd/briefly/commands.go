package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/briefly/internal/correlate"
	"github.com/kalambet/briefly/internal/feature"
	"github.com/kalambet/briefly/internal/papers"
)

// --- research ---

var researchCmd = &cobra.Command{
	Use:   "research <feature> <topic...>",
	Short: "Run a research task and print the structured result",
	Long: `Run a research task and print the structured result.

Examples:
  briefly research curation "Bitcoin" --count 8
  briefly research window "AI chips" --days 14
  briefly research whitepapers "zero-knowledge proofs"
  briefly research onepager "Solana"

When the server's polling budget runs out before the agent finishes, the
command keeps watching history until the result lands or three minutes
pass.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureName := args[0]
		topic := strings.Join(args[1:], " ")

		if _, ok := feature.Lookup(featureName); !ok {
			return fmt.Errorf("unknown feature %q (available: %s)", featureName, strings.Join(feature.Names(), ", "))
		}

		count, _ := cmd.Flags().GetInt("count")
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		requestKey := uuid.NewString()
		requestedAt := time.Now()

		printStep("Researching %q (%s)...", topic, featureName)

		body := map[string]any{
			"topic":       topic,
			"request_key": requestKey,
		}
		if count > 0 {
			body["count"] = count
		}
		if days > 0 {
			body["days"] = days
		}

		ctx := cmd.Context()
		resp, err := client.post(ctx, "/api/"+featureName, body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusGatewayTimeout {
			resp.Body.Close()
			printWarning("Agent still working, watching history for the result...")
			return awaitHistory(ctx, client, featureName, topic, requestKey, requestedAt)
		}

		var result struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		return printPayload(result.Payload)
	},
}

// awaitHistory polls the history endpoint until the timed-out request's
// result appears, then prints its payload.
func awaitHistory(ctx context.Context, client *apiClient, featureName, topic, requestKey string, requestedAt time.Time) error {
	reader := &historyReader{client: client, feature: featureName}

	row, ok := correlate.Await(ctx, reader, nil, correlate.DefaultConfig(), topic, requestKey, requestedAt)
	if !ok {
		return fmt.Errorf("gave up waiting for the result; try `briefly history %s` later", featureName)
	}

	resp, err := client.get(ctx, "/api/"+featureName+"/history/"+row.ID)
	if err != nil {
		return err
	}

	var item struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := decodeJSON(resp, &item); err != nil {
		return err
	}

	printSuccess("Result arrived as %s", row.ID)
	return printPayload(item.Payload)
}

// historyReader adapts the history endpoint to the correlator.
type historyReader struct {
	client  *apiClient
	feature string
}

func (r *historyReader) Recent(ctx context.Context, n int) ([]correlate.Row, error) {
	resp, err := r.client.get(ctx, fmt.Sprintf("/api/%s/history?limit=%d", r.feature, n))
	if err != nil {
		return nil, err
	}

	var list struct {
		Results []struct {
			ID         string `json:"id"`
			Topic      string `json:"topic"`
			RequestKey string `json:"request_key"`
			CreatedAt  string `json:"created_at"`
		} `json:"results"`
	}
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}

	rows := make([]correlate.Row, 0, len(list.Results))
	for _, item := range list.Results {
		createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
		if err != nil {
			continue
		}
		rows = append(rows, correlate.Row{
			ID:         item.ID,
			Topic:      item.Topic,
			RequestKey: item.RequestKey,
			CreatedAt:  createdAt,
		})
	}
	return rows, nil
}

func printPayload(payload json.RawMessage) error {
	var pretty map[string]any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		fmt.Println(string(payload))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	researchCmd.Flags().Int("count", 0, "item or paper count (feature dependent)")
	researchCmd.Flags().Int("days", 0, "lookback window in days (window feature)")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <feature>",
	Short: "List stored research results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureName := args[0]
		limit, _ := cmd.Flags().GetInt("limit")
		more, _ := cmd.Flags().GetInt("more")
		search, _ := cmd.Flags().GetString("search")

		limit += 25 * more
		if limit > 50 {
			limit = 50
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/%s/history?limit=%d", featureName, limit)
		if search != "" {
			path += "&search=" + url.QueryEscape(search)
		}

		var list struct {
			Results []struct {
				ID        string `json:"id"`
				Topic     string `json:"topic"`
				CreatedAt string `json:"created_at"`
			} `json:"results"`
		}
		// Read failures degrade to an empty listing.
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			printWarning("history unavailable: %v", err)
		} else if err := decodeJSON(resp, &list); err != nil {
			printWarning("history unavailable: %v", err)
		}

		if len(list.Results) == 0 {
			fmt.Println("No results.")
			return nil
		}

		for _, item := range list.Results {
			fmt.Printf("  %s  %s  %s\n", colorize(colorBold, item.ID), item.CreatedAt, item.Topic)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of results")
	historyCmd.Flags().Int("more", 0, "widen the listing by 25 per increment (capped at 50)")
	historyCmd.Flags().String("search", "", "filter by topic substring")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <feature> <id>",
	Short: "Print a stored research result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		featureName, id := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/"+featureName+"/history/"+id)
		if err != nil {
			return err
		}

		var item struct {
			Topic     string          `json:"topic"`
			CreatedAt string          `json:"created_at"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printStatus("Topic", "%s", item.Topic)
		printStatus("Created", "%s", item.CreatedAt)
		return printPayload(item.Payload)
	},
}

// --- papers ---

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "Work with white papers returned by research results",
}

var papersFetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a white paper and print its plain text",
	Long: `Fetch a white paper and print its plain text.

The URL may point directly at a PDF or at a landing page linking to one,
as returned by the whitepapers research feature.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		printStep("Fetching %s...", args[0])
		text, err := papers.Fetch(ctx, nil, args[0])
		if err != nil {
			return err
		}

		fmt.Println(text)
		return nil
	},
}

func init() {
	papersCmd.AddCommand(papersFetchCmd)
}
