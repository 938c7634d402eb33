// Package main is the entry point for altctl, the operator CLI for the alttext API.
package main

import (
	"os"

	"github.com/kiranshivaraju/alttext/cmd/altctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
