package main

import (
	"os"

	"github.com/zwire/zwire/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
