package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/withregard/regard-go/cmd/root"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := root.Execute(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
