package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/ranker"
)

type searchOptions struct {
	addr    string
	limit   int
	format  string
	timeout time.Duration
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query a running service",
		Long: `Query a running trigram search service through the base64 search
route and print the ranked matches.

Examples:
  trigramctl search "PA Galuxy"
  trigramctl search --addr http://search:18080 --limit 10 --format json "galaxy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: opts.timeout}
			docs, err := remoteSearch(cmd, client, opts.addr, strings.Join(args, " "), opts.limit)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), docs, opts.format)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:18080", "Service base URL")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 5, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func remoteSearch(cmd *cobra.Command, client *http.Client, addr, query string, limit int) ([]ranker.ScoredDoc, error) {
	base, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing --addr: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString([]byte(query))
	target := base.JoinPath("search", encoded, strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return nil, fmt.Errorf("search failed (%d): %s", resp.StatusCode, body.Error)
	}

	var docs []ranker.ScoredDoc
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return docs, nil
}

func printResults(w io.Writer, docs []ranker.ScoredDoc, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case "text":
		if len(docs) == 0 {
			fmt.Fprintln(w, "no matches")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tPK\tNAME")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.FormattedScore(), d.ID, d.Name)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}
