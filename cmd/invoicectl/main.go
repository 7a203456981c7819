// Package main is the entry point for invoicectl, the operator CLI of the
// invoicer functions.
package main

import (
	"os"

	"github.com/Lllllllleong/invoiceflow/cmd/invoicectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
