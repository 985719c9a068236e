package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/changefeed"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
)

type replayOptions struct {
	input    string
	query    string
	limit    int
	format   string
	ordering bool
	n        int
}

// replaySummary counts applied events by kind and outcome.
type replaySummary struct {
	Lines    int                       `json:"lines"`
	Outcomes map[string]map[string]int `json:"outcomes"`
	Records  int                       `json:"records"`
	Ngrams   int                       `json:"ngrams"`
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Apply a JSONL file of change events to an in-memory index",
		Long: `Apply change events, one JSON document per line, to a fresh in-memory
index and optionally run a query against the result. Use "-" to read stdin.

Input formats:
  events  {"id":"...","text":"..."|null,"updated":"..."}
  rows    changefeed rows {"after":{...}|null,"key":[...],"updated":"..."}

Examples:
  trigramctl replay events.jsonl --query "PA Galuxy"
  trigramctl replay --input rows --ordering feed.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), r, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "events", "Input format: events, rows")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Query to run after replaying")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 5, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.ordering, "ordering", false, "Drop events older than the last applied version of their id")
	cmd.Flags().IntVar(&opts.n, "n", config.Default().Indexer.NgramSize, "Window length in characters")
	return cmd
}

func runReplay(ctx context.Context, w io.Writer, r io.Reader, opts replayOptions) error {
	cfg := config.Default()
	cfg.Indexer.NgramSize = opts.n
	cfg.Indexer.EnforceOrdering = opts.ordering
	if opts.input != "events" && opts.input != "rows" {
		return fmt.Errorf("unknown input format %q (want events or rows)", opts.input)
	}

	idx := index.NewMemoryIndex()
	st := store.NewMemoryStore()
	engine := indexer.NewEngine(cfg.Indexer, idx, st)
	decoder := changefeed.NewDecoder(cfg.CDC)

	summary := replaySummary{Outcomes: make(map[string]map[string]int)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		summary.Lines++

		var ev indexer.Event
		var err error
		if opts.input == "rows" {
			ev, err = decoder.DecodeRow(raw)
		} else {
			err = json.Unmarshal(raw, &ev)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", summary.Lines, err)
		}

		res, err := engine.Apply(ctx, ev)
		if err != nil && !errors.Is(err, apperrors.ErrRejectedEvent) {
			return fmt.Errorf("line %d: %w", summary.Lines, err)
		}
		kind := "unknown"
		if res.Outcome != indexer.OutcomeRejected {
			kind = res.Kind.String()
		}
		if summary.Outcomes[kind] == nil {
			summary.Outcomes[kind] = make(map[string]int)
		}
		summary.Outcomes[kind][string(res.Outcome)]++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	summary.Records = idx.Len()
	summary.Ngrams = idx.Terms()

	if opts.query == "" {
		return printSummary(w, summary, opts.format)
	}
	result, err := executor.New(engine.Tokenizer(), idx, st).Execute(ctx, opts.query, opts.limit)
	if err != nil {
		return err
	}
	if opts.format != "json" {
		if err := printSummary(w, summary, opts.format); err != nil {
			return err
		}
	}
	return printResults(w, result.Results, opts.format)
}

func printSummary(w io.Writer, s replaySummary, format string) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(s)
	case "text":
		fmt.Fprintf(w, "replayed %d events: %d records, %d distinct n-grams\n", s.Lines, s.Records, s.Ngrams)
		for _, kind := range []string{"created", "updated", "deleted", "unknown"} {
			outcomes := s.Outcomes[kind]
			for _, outcome := range slices.Sorted(maps.Keys(outcomes)) {
				fmt.Fprintf(w, "  %s/%s: %d\n", kind, outcome, outcomes[outcome])
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}
