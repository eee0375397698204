// jadewatch compiles Jade templates to HTML and rebuilds them on change.
package main

import (
	"os"

	"github.com/hupe1980/jadewatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
