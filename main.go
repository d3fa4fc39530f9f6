package main

import (
	"fmt"
	"os"

	"github.com/railsync/railsync/node"
)

func main() { // run the app
	if err := node.GetCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
