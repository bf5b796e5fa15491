package main

import (
	"os"

	"github.com/vsrinivas/fuchsia-debug/cmd/fidlcat/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
