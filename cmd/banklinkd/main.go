// Command banklinkd serves the bank link HTTP API backed by SQL storage and
// the Plaid aggregator.
package main

import "os"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
