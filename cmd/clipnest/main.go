package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"go-clipnest/cmd/clipnest/cmd"
)

const version = "0.1.0"

func main() {
	root := cmd.Root()

	err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	)
	// Flush the HTTP log before exiting
	cmd.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
