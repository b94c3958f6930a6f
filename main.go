package main

import (
	"os"

	"github.com/mediabundler/mediabundler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
