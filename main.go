package main

import (
	"os"

	"github.com/pcollins/recmerge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
