/*
Package main provides the CLI entry point for clubmail.
*/
package main

import (
	"os"

	"github.com/oarkflow/clubmail/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
