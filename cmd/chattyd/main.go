package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatty/internal/config"
	"github.com/matheus3301/chatty/internal/server"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to chattyd.toml")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		server.Module(cfg),
	)

	app.Run()
}
