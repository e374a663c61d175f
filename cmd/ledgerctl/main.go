package main

import (
	"os"

	"github.com/JoeShih716/go-bank-ledger/internal/app/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
