package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	huddle "github.com/putto11262002/huddle/app"
)

func main() {
	envFile := flag.String("env", ".env", "path of an optional .env file")
	configDir := flag.String("config", ".", "directory searched for config.yaml")
	defaults := flag.Bool("defaults", false, "ignore .env, config.yaml and the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	var loader huddle.ConfigLoader = &huddle.EnvConfigLoader{Files: []string{*envFile}, Paths: []string{*configDir}}
	if *defaults {
		loader = &huddle.DefaultConfigLoader{}
	}
	config, err := loader.Load()
	if err != nil {
		failed(1, "failed to load config: %v\n", err)
	}

	app, err := huddle.New(ctx, config)
	if err != nil {
		failed(1, "%v\n", err)
	}
	if err := app.Start(); err != nil {
		failed(1, "%v\n", err)
	}
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
