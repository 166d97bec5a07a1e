package main

import (
	"os"

	"fobreader/cmd"
)

var myBuild string

func main() {
	if err := cmd.Execute(myBuild); err != nil {
		os.Exit(1)
	}
}
