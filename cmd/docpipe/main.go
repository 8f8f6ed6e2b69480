// Command docpipe is the operator tool for the document pipeline: tenant
// provisioning, schema checks, job inspection and the resume worker.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-pipeline/config"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, prometheus.DefaultRegisterer); err != nil {
		fmt.Fprintln(os.Stderr, "docpipe:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, registerer prometheus.Registerer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("docpipe"),
		kong.Description("Multi-tenant document pipeline operator tool."),
		kong.UsageOnError(),
		kong.Writers(out, out),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, out, registerer)
	if err != nil {
		return err
	}
	defer a.Close()

	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(a)
}
