package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"

	pipeline "github.com/goliatone/go-pipeline"
)

// CLI is the docpipe command tree.
type CLI struct {
	Config string `help:"Path to a YAML config file." short:"c" type:"path" env:"DOCPIPE_CONFIG"`

	Tenant TenantCmd `cmd:"" help:"Manage tenants."`
	Schema SchemaCmd `cmd:"" help:"Inspect and repair tenant stores."`
	Jobs   JobsCmd   `cmd:"" help:"Submit and inspect document jobs."`
	Worker WorkerCmd `cmd:"" help:"Resume checkpointed jobs until interrupted."`
}

type TenantCmd struct {
	Create TenantCreateCmd `cmd:"" help:"Register a tenant and provision its store."`
	List   TenantListCmd   `cmd:"" help:"List registered tenants."`
}

type TenantCreateCmd struct {
	ID     string `arg:"" help:"Tenant id."`
	Name   string `help:"Display name."`
	Domain string `help:"Tenant domain."`
}

func (c *TenantCreateCmd) Run(ctx context.Context, a *app) error {
	t := pipeline.Tenant{ID: c.ID, Name: c.Name, Domain: c.Domain}
	if _, err := a.manager.Provision(ctx, t); err != nil {
		return err
	}
	if err := a.directory.Register(ctx, t); err != nil {
		return fmt.Errorf("register tenant %s: %w", t.ID, err)
	}
	if err := a.seedCatalog(ctx, t); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "tenant %s provisioned (%s)\n", t.ID, t.StoreName())
	return nil
}

type TenantListCmd struct{}

func (c *TenantListCmd) Run(ctx context.Context, a *app) error {
	tenants, err := a.directory.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", t.ID, t.Name, t.Domain)
	}
	return nil
}

type SchemaCmd struct {
	Check  SchemaCheckCmd  `cmd:"" help:"Report missing tables in a tenant store."`
	Repair SchemaRepairCmd `cmd:"" help:"Apply pending migrations to a tenant store."`
}

type SchemaCheckCmd struct {
	ID string `arg:"" help:"Tenant id."`
}

func (c *SchemaCheckCmd) Run(ctx context.Context, a *app) error {
	t, err := a.tenant(ctx, c.ID)
	if err != nil {
		return err
	}
	missing, err := a.manager.MissingTables(ctx, t)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		fmt.Fprintf(a.out, "tenant %s: schema ready\n", t.ID)
		return nil
	}
	fmt.Fprintf(a.out, "tenant %s: missing %s\n", t.ID, strings.Join(missing, ", "))
	return fmt.Errorf("tenant %s schema incomplete", t.ID)
}

type SchemaRepairCmd struct {
	ID string `arg:"" help:"Tenant id."`
}

func (c *SchemaRepairCmd) Run(ctx context.Context, a *app) error {
	t, err := a.tenant(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := a.manager.RepairSchema(ctx, t); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "tenant %s: schema repaired\n", t.ID)
	return nil
}

type JobsCmd struct {
	Submit  JobsSubmitCmd  `cmd:"" help:"Queue a document job and checkpoint it for the worker."`
	Inspect JobsInspectCmd `cmd:"" help:"Print a job with its execution history as JSON."`
}

type JobsSubmitCmd struct {
	Tenant   string `arg:"" help:"Tenant id."`
	Document string `arg:"" help:"Document id."`
	Pipeline string `required:"" type:"existingfile" help:"Pipeline file, YAML or JSON."`
	Campaign string `default:"default" help:"Campaign id."`
	Filename string `help:"Original file name."`
	MimeType string `name:"mime-type" help:"Document MIME type."`
	Size     int64  `help:"Document size in bytes."`
	Location string `help:"Storage location of the document content."`
}

func (c *JobsSubmitCmd) Run(ctx context.Context, a *app) error {
	raw, err := os.ReadFile(c.Pipeline)
	if err != nil {
		return err
	}
	cfg, err := pipeline.ParsePipelineConfig(raw)
	if err != nil {
		return err
	}
	adapter, err := a.resumer()
	if err != nil {
		return err
	}
	doc := pipeline.Document{
		ID:              c.Document,
		TenantID:        c.Tenant,
		CampaignID:      c.Campaign,
		Filename:        c.Filename,
		MimeType:        c.MimeType,
		Size:            c.Size,
		StorageLocation: c.Location,
	}
	campaign := pipeline.Campaign{ID: c.Campaign, TenantID: c.Tenant, Name: c.Campaign, Pipeline: cfg}
	job, err := adapter.Submit(ctx, doc, campaign)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "job %s queued for document %s\n", job.ID, doc.ID)
	return nil
}

type JobsInspectCmd struct {
	Tenant string `arg:"" help:"Tenant id."`
	Job    string `arg:"" help:"Job id."`
}

func (c *JobsInspectCmd) Run(ctx context.Context, a *app) error {
	report, err := a.engine.Inspect(ctx, c.Tenant, c.Job)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(raw))
	return nil
}

type WorkerCmd struct {
	Once bool `help:"Sweep until no checkpoint is due, then exit."`
}

func (c *WorkerCmd) Run(ctx context.Context, a *app) error {
	sweeper, err := a.sweeper()
	if err != nil {
		return err
	}
	if c.Once {
		total := 0
		for {
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			total += n
		}
		fmt.Fprintf(a.out, "%d steps resumed\n", total)
		return nil
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sweeper.Stop()
	return nil
}
