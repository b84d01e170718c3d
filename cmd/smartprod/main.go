package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/AbuAli85/smartprohub-sub000/internal/config"
	"github.com/AbuAli85/smartprohub-sub000/internal/daemon"
	"github.com/AbuAli85/smartprohub-sub000/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := session.Resolve(*profileFlag)
	if err := session.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load %s: %v\n", session.ConfigPath(), err)
		os.Exit(1)
	}
	if cfg.Platform.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "error: platform.base_url is not configured")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Config: cfg}),
	)

	app.Run()
}
