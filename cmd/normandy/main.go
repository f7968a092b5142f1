// Command normandy manages recipes from the command line.
package main

import (
	"os"

	"github.com/kilupskalvis/normandy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
