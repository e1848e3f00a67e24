package main

import (
	"os"

	"github.com/chantier-erp/chantier/cmd/chantierctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
