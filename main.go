package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jimmychuckball/pythonmap/api"
	"github.com/jimmychuckball/pythonmap/cli"
	"github.com/jimmychuckball/pythonmap/config"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		os.Exit(serve(os.Args[2:]))
	}
	os.Exit(cli.Run(os.Args[1:]))
}

// serve runs the REST scan service until SIGINT or SIGTERM.
func serve(args []string) int {
	fs := flag.NewFlagSet("pythonmap serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	addr := fs.String("addr", "", "Listen address, overrides api.addr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
