// Command opendata-ingest mirrors public open-data APIs into a relational
// store.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/opendata-ingest/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
