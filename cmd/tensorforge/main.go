// Command tensorforge is a thin driver over the programmatic graph
// builder API: it is not part of the core's contract (spec.md §6 lists
// no CLI), only a runnable surface for exercising the canonical
// end-to-end scenarios from the command line.
package main

import "github.com/tensorforge/tensorforge/cmd/tensorforge/cmd"

func main() {
	cmd.Execute()
}
