package main

import (
	"os"

	"github.com/dmitrijs2005/docvault/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
