// Package main implements the synthgen operator CLI. It runs generation
// tasks against datasets in PostgreSQL, keeps the vector index of generated
// samples in sync and hosts the long-running task runner.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
