// Command llmc is the retrieval engine CLI: indexing, enrichment, graph
// builds, query planning, and the background service daemon.
package main

import (
	"os"

	"github.com/llmc-dev/llmc/cmd/llmc/cmd"
	llmcerrors "github.com/llmc-dev/llmc/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(llmcerrors.ExitCode(err))
	}
}
