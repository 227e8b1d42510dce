// Command tether controls the tether daemon.
package main

import (
	"fmt"
	"os"

	"github.com/tessro/tether/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tether: %v\n", err)
		os.Exit(1)
	}
}
