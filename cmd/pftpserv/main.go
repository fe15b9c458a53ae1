package main

import (
	"os"

	"github.com/sheerbytes/pftp/internal/cli/server"
	"github.com/sheerbytes/pftp/internal/termio"
)

func main() {
	termio.Init()
	termio.Exit(server.Run(os.Args[1:]))
}
