// Command loomctl is the command-line client for the loom model service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/agenthands/loom/internal/client"
	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/observability"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

const version = "0.1.0"

var cli struct {
	Config    string   `help:"Path to a TOML config file." type:"path"`
	Relay     string   `help:"Relay base URL (overrides config)."`
	Namespace string   `help:"API namespace (overrides config)."`
	Token     string   `help:"Access token (overrides config)."`
	Group     []string `help:"Group scope stamped on every call (overrides config)."`
	Verbose   bool     `short:"v" help:"Debug logging."`

	Meta      MetaCmd      `cmd:"" help:"Query the relation and evidence vocabularies and the model catalogue."`
	Get       GetCmd       `cmd:"" help:"Fetch one model."`
	Create    CreateCmd    `cmd:"" help:"Create an empty model."`
	Seed      SeedCmd      `cmd:"" help:"Seed a new model from an external source."`
	Duplicate DuplicateCmd `cmd:"" help:"Duplicate a model under a new title."`
	Export    ExportCmd    `cmd:"" help:"Export one model."`
	Store     StoreCmd     `cmd:"" help:"Persist one model, or every model."`
	Undo      UndoCmd      `cmd:"" help:"Roll a model back one snapshot."`
	Redo      RedoCmd      `cmd:"" help:"Replay an undone snapshot."`
	Version   VersionCmd   `cmd:"" help:"Print version information."`
}

type app struct {
	mgr *client.Manager
}

func buildApp() (*app, error) {
	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Environment overrides the file; flags override both.
	if v := os.Getenv("LOOM_RELAY_URL"); v != "" {
		cfg.Relay.BaseURL = v
	}
	if v := os.Getenv("LOOM_TOKEN"); v != "" {
		cfg.Relay.Token = v
	}
	if cli.Relay != "" {
		cfg.Relay.BaseURL = cli.Relay
	}
	if cli.Namespace != "" {
		cfg.Relay.Namespace = cli.Namespace
	}
	if cli.Token != "" {
		cfg.Relay.Token = cli.Token
	}

	level := cfg.Log.Level
	if cli.Verbose {
		level = "debug"
	}
	logger := observability.InitLogger("loomctl", level)

	engine := transport.NewHTTPEngine(logger, time.Duration(cfg.Client.TimeoutSecs)*time.Second)
	mgr, err := client.New(cfg.Relay.BaseURL, cfg.Relay.Namespace, cfg.Relay.Token,
		engine, client.Mode(cfg.Client.Mode), logger)
	if err != nil {
		return nil, err
	}

	mgr.SetUseReasoner(cfg.Client.UseReasoner)
	groups := cfg.Client.Groups
	if len(cli.Group) > 0 {
		groups = cli.Group
	}
	mgr.SetGroups(groups)

	// Service warnings surface on the console as they arrive.
	mgr.Subscribe(event.Warning, func(resp *response.Response) {
		logger.Warn().Str("message", resp.Message()).Msg("service warning")
	})

	return &app{mgr: mgr}, nil
}

// await settles a dispatched call and turns non-success replies into errors.
// Warnings pass through; the warning channel already reported them.
func (a *app) await(ctx context.Context, p *transport.Pending, err error) (*response.Response, error) {
	if err != nil {
		return nil, err
	}
	resp, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if resp.MessageType() == response.MessageTypeWarning {
		return resp, nil
	}
	if !resp.Okay() {
		return nil, &client.ServiceError{MessageType: resp.MessageType(), Message: resp.Message()}
	}
	return resp, nil
}

func printModel(resp *response.Response) {
	fmt.Println(resp.ModelID())
	for _, ann := range resp.Annotations() {
		fmt.Printf("  %s: %s\n", ann.Key, ann.Value)
	}
	for _, ind := range resp.Individuals() {
		fmt.Printf("  node %s", ind.ID)
		for _, tp := range ind.Types {
			fmt.Printf(" [%s]", tp.ID)
		}
		fmt.Println()
		for _, ann := range ind.Annotations {
			fmt.Printf("    %s: %s\n", ann.Key, ann.Value)
		}
	}
	for _, f := range resp.Facts() {
		fmt.Printf("  edge %s -%s- %s\n", f.Subject, f.Predicate, f.Object)
	}
}

type MetaCmd struct{}

func (c *MetaCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.GetMeta(ctx)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}

	fmt.Println("relations:")
	for _, rel := range resp.Relations() {
		fmt.Printf("  %s\t%s\n", rel.ID, rel.Label)
	}
	fmt.Println("evidence:")
	for _, ev := range resp.Evidence() {
		fmt.Printf("  %s\t%s\n", ev.ID, ev.Label)
	}
	fmt.Println("models:")
	meta := resp.ModelsMeta()
	for _, id := range resp.ModelIDs() {
		title, _ := model.AnnotationValue(meta[id], model.KeyTitle)
		fmt.Printf("  %s\t%s\n", id, title)
	}
	return nil
}

type GetCmd struct {
	ID string `arg:"" help:"Model identifier."`
}

func (c *GetCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.GetModel(ctx, c.ID)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	printModel(resp)
	return nil
}

type CreateCmd struct {
	Title string `help:"Title annotation for the new model."`
}

func (c *CreateCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.AddModel(ctx, c.Title)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	fmt.Println(resp.ModelID())
	return nil
}

type SeedCmd struct {
	Source string `arg:"" help:"Identifier of the external source to seed from."`
	Format string `help:"Source format hint."`
}

func (c *SeedCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.SeedModel(ctx, c.Source, c.Format)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	printModel(resp)
	return nil
}

type DuplicateCmd struct {
	ID    string `arg:"" help:"Model to duplicate."`
	Title string `required:"" help:"Title for the copy."`
}

func (c *DuplicateCmd) Run(a *app) error {
	id, err := a.mgr.DuplicateModel(context.Background(), c.ID, c.Title)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

type ExportCmd struct {
	ID     string `arg:"" help:"Model to export."`
	Format string `default:"native" help:"Export format."`
}

func (c *ExportCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.ExportModel(ctx, c.ID, c.Format)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message())
	printModel(resp)
	return nil
}

type StoreCmd struct {
	ID string `arg:"" optional:"" help:"Model to store; omit to store every model."`
}

func (c *StoreCmd) Run(a *app) error {
	ctx := context.Background()
	var p *transport.Pending
	var err error
	if c.ID == "" {
		p, err = a.mgr.StoreAll(ctx)
	} else {
		p, err = a.mgr.StoreModel(ctx, c.ID)
	}
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message())
	return nil
}

type UndoCmd struct {
	ID string `arg:"" help:"Model to roll back."`
}

func (c *UndoCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.Undo(ctx, c.ID)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	if resp.Okay() {
		printModel(resp)
	}
	return nil
}

type RedoCmd struct {
	ID string `arg:"" help:"Model to roll forward."`
}

func (c *RedoCmd) Run(a *app) error {
	ctx := context.Background()
	p, err := a.mgr.Redo(ctx, c.ID)
	resp, err := a.await(ctx, p, err)
	if err != nil {
		return err
	}
	if resp.Okay() {
		printModel(resp)
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(*app) error {
	fmt.Printf("loomctl %s\n", version)
	return nil
}

func main() {
	// .env is optional; absence just means defaults.
	_ = godotenv.Load()

	ctx := kong.Parse(&cli,
		kong.Name("loomctl"),
		kong.Description("Command-line client for the loom model service."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	a, err := buildApp()
	ctx.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(a))
}
