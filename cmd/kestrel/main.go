// Kestrel is a compliance decision engine for transactions and loan
// applications.
//
// Usage:
//
//	# Serve the HTTP API (and the bus worker when enabled)
//	kestrel serve --config kestrel.yaml
//
//	# Evaluate a validation dataset and print the summary
//	kestrel run --dataset scenarios.yaml --format markdown
//
//	# Evaluate one payload
//	kestrel evaluate --file payload.json
//
//	# List the rule catalogs
//	kestrel rules
//
//	# Replay a dataset against a running server
//	kestrel bench --dataset scenarios.yaml --url http://localhost:8080
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}
