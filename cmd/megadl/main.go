// Command megadl downloads public MEGA links (files and folders) to local
// disk, with resumable, concurrent transfers.
package main

import (
	"fmt"
	"os"

	"github.com/megacli/megadl/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
