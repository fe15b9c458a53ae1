package main

import (
	"os"

	"github.com/sheerbytes/pftp/internal/cli/client"
	"github.com/sheerbytes/pftp/internal/termio"
)

func main() {
	termio.Init()
	termio.Exit(client.Run(os.Args[1:]))
}
