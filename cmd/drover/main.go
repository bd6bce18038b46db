package main

import (
	"os"

	"github.com/droverhq/drover/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
