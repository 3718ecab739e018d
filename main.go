// The main package for the archiver executable.
package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/JakeFAU/catalog-archiver/cmd"
)

func main() {
	cmd.Execute()
}
