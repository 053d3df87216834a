/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima/v2/engine"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "path to the engine configuration")
	backend := flag.String("backend", "", "override the renderer backend (vulkan or headless)")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	tb := testbed.NewTestGame(cfg)

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	// capture sigterm and other system calls; the loop exits on the next frame
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(); err != nil {
		core.LogError("%s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("%s", err)
	}
	if runErr != nil {
		core.LogError("%s", runErr)
		os.Exit(1)
	}
}
