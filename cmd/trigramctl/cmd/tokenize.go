package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
)

type tokenizeOptions struct {
	n      int
	fold   bool
	asJSON bool
}

func newTokenizeCmd() *cobra.Command {
	var opts tokenizeOptions

	cmd := &cobra.Command{
		Use:   "tokenize <text>",
		Short: "Print the n-grams of text",
		Long: `Print the n-grams of text in window order, one per line, with
surrounding quotes so leading and trailing spaces are visible.

Examples:
  trigramctl tokenize "LA Galaxy"
  trigramctl tokenize --n 2 --json "PA Galuxy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok := tokenizer.Tokenizer{N: opts.n, FoldPunctuation: opts.fold}
			grams := tok.Tokenize(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return json.NewEncoder(out).Encode(grams)
			}
			for _, g := range grams {
				fmt.Fprintf(out, "%q\n", g)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", tokenizer.DefaultSize, "Window length in characters")
	cmd.Flags().BoolVar(&opts.fold, "fold", false, "Collapse punctuation runs to a single space first")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print a JSON array instead of one n-gram per line")
	return cmd
}
