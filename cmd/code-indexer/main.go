// Package main provides the entry point for the code-indexer CLI.
package main

import (
	"os"

	"github.com/jsbattig/code-indexer-sub032/cmd/code-indexer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
