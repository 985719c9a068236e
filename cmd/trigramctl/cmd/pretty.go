package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newPrettyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pretty",
		Short: "Pretty-print JSON lines from stdin",
		Long: `Read one JSON document per line from stdin and print each indented
with sorted object keys. Useful for reading changefeed sink output.

Example:
  kafka-console-consumer --topic teams | trigramctl pretty`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prettyLines(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func prettyLines(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", out); err != nil {
			return err
		}
	}
	return scanner.Err()
}
