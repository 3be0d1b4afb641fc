package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/isometry/ldap-csv-exporter/internal/cli"
	"github.com/isometry/ldap-csv-exporter/internal/logging"
)

// version is set by the release build with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logging.NewRootContext(ctx)

	code := cli.NewApp(os.Stdout, os.Stderr, version).Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
