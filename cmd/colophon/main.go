// Package main implements the colophon CLI: the cobra entrypoint that wires
// flags onto a pipeline.Options and runs the batch verification harness.
package main

import "os"

func main() {
	os.Exit(Execute())
}
