// The main package for the site-rebuilder executable.
package main

import (
	"github.com/JakeFAU/site-rebuilder/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
