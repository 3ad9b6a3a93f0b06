package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	g := &globalFlags{}
	defer g.teardown()
	if err := rootCmd(g).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
