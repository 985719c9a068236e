// Package main provides the entry point for the trigramctl operator CLI.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/cmd/trigramctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
