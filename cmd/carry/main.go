// Command carry resolves Bible passage references and serves the plan API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/carry/core/bible"
	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/core/sqlite"
	"github.com/FocuswithJustin/carry/internal/api"
	"github.com/FocuswithJustin/carry/internal/logging"
	"github.com/FocuswithJustin/carry/internal/store"
)

const version = "0.4.0"

// defaultConfigPath is read when present; --config adds another file.
const defaultConfigPath = "~/.config/carry/config.yaml"

// CLI defines the command-line interface for carry.
type CLI struct {
	Config    kong.ConfigFlag `help:"YAML configuration file" placeholder:"PATH"`
	LogLevel  string          `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info" enum:"debug,info,warn,error" env:"CARRY_LOG_LEVEL"`
	LogFormat string          `name:"log-format" help:"Log format (json, text)" default:"text" enum:"json,text" env:"CARRY_LOG_FORMAT"`

	Resolve ResolveCmd `cmd:"" help:"Resolve passage references such as \"John 3:16-18\""`
	Books   BooksCmd   `cmd:"" help:"List the books of the Bible"`
	Serve   ServeCmd   `cmd:"" help:"Start the REST and WebSocket API server"`
	Plans   PlansGroup `cmd:"" help:"Plan store maintenance"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Env carries the process streams and context into command Run methods.
type Env struct {
	Ctx context.Context
	Out io.Writer
	Err io.Writer
}

// ResolveCmd resolves one or more passages.
type ResolveCmd struct {
	Passages []string `arg:"" help:"Passage references (quote multi-word references)"`
	JSON     bool     `help:"Print results as JSON"`
	Aliases  bool     `help:"Accept abbreviations and alternate book names" env:"CARRY_ALIASES"`
}

// resolveResult is one line of resolve output.
type resolveResult struct {
	Input     string         `json:"input"`
	Reference string         `json:"reference,omitempty"`
	Verse     *passage.Verse `json:"verse,omitempty"`
	Error     *resolveError  `json:"error,omitempty"`
}

type resolveError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *ResolveCmd) Run(env *Env) error {
	var opts []passage.Option
	if c.Aliases {
		opts = append(opts, passage.WithAliases())
	}
	r := passage.New(opts...)

	results := make([]resolveResult, 0, len(c.Passages))
	failed := 0
	for _, in := range c.Passages {
		res := resolveResult{Input: in}
		v, err := r.Resolve(in)
		if err != nil {
			kind, ok := errors.PassageKindOf(err)
			if !ok {
				return err
			}
			res.Error = &resolveError{Code: string(kind), Message: kind.Message()}
			failed++
		} else {
			res.Verse = &v
			res.Reference = v.String()
		}
		results = append(results, res)
	}

	if c.JSON {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INPUT\tREFERENCE\tBOOK\tCHAPTER\tVERSES")
		for _, res := range results {
			if res.Error != nil {
				fmt.Fprintf(tw, "%s\t%s\t\t\t\n", res.Input, res.Error.Code)
				continue
			}
			v := res.Verse
			fmt.Fprintf(tw, "%s\t%s\t%s (%d)\t%d\t%d-%d\n",
				res.Input, res.Reference, v.BookAbbr, v.BookID, v.ChapterNumber, v.VerseFrom, v.VerseTo)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d passages could not be resolved", failed, len(results))
	}
	return nil
}

// BooksCmd lists the book table.
type BooksCmd struct {
	Testament string `help:"Only list one testament (OT or NT)"`
	JSON      bool   `help:"Print books as JSON"`
}

func (c *BooksCmd) Run(env *Env) error {
	books := bible.All()
	switch t := bible.Testament(strings.ToUpper(c.Testament)); t {
	case "":
	case bible.OldTestament, bible.NewTestament:
		books = bible.ByTestament(t)
	default:
		return errors.NewValidation("testament", "must be OT or NT")
	}

	if c.JSON {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(books)
	}

	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tABBR\tNAME\tCHAPTERS\tVERSES")
	for i := range books {
		b := &books[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", b.Number, b.Abbr, b.Name, b.ChapterCount(), b.TotalVerses())
	}
	return tw.Flush()
}

// ServeCmd starts the API server.
type ServeCmd struct {
	Port           int      `help:"HTTP server port" default:"8080" env:"CARRY_PORT"`
	DB             string   `name:"db" help:"Plan database path" default:"carry.db" type:"path" env:"CARRY_DB"`
	RateLimit      int      `name:"rate-limit" help:"Requests per minute per client IP (0 disables)" default:"120" env:"CARRY_RATE_LIMIT"`
	RateBurst      int      `name:"rate-burst" help:"Rate limit burst size" default:"20" env:"CARRY_RATE_BURST"`
	AllowedOrigins []string `name:"allowed-origins" help:"CORS and WebSocket origins (empty allows all)" env:"CARRY_ALLOWED_ORIGINS"`
	Aliases        bool     `help:"Accept abbreviations and alternate book names" env:"CARRY_ALIASES"`
	ResolveCache   int      `name:"resolve-cache" help:"Number of resolved passages to memoise (0 disables)" default:"4096" env:"CARRY_RESOLVE_CACHE"`
}

func (c *ServeCmd) config() api.Config {
	cfg := api.DefaultConfig()
	cfg.Port = c.Port
	cfg.DBPath = c.DB
	cfg.RateLimitRequests = c.RateLimit
	cfg.RateLimitBurst = c.RateBurst
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.Aliases = c.Aliases
	cfg.ResolveCacheSize = c.ResolveCache
	cfg.Version = version
	return cfg
}

func (c *ServeCmd) Run(env *Env) error {
	return api.Start(env.Ctx, c.config())
}

// PlansGroup contains plan store maintenance commands.
type PlansGroup struct {
	Export PlansExportCmd `cmd:"" help:"Export plans as xz-compressed JSON lines"`
	Import PlansImportCmd `cmd:"" help:"Import plans written by export"`
}

// StoreFlags are shared by commands that open the plan store.
type StoreFlags struct {
	DB string `name:"db" help:"Plan database path" default:"carry.db" type:"path" env:"CARRY_DB"`
}

// PlansExportCmd writes plans to a file or stdout.
type PlansExportCmd struct {
	StoreFlags `embed:""`
	Org        string `help:"Only export this organisation's plans"`
	Out        string `short:"o" help:"Output file (- for stdout)" default:"-"`
}

func (c *PlansExportCmd) Run(env *Env) (err error) {
	st, err := store.Open(env.Ctx, c.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	var w io.Writer = env.Out
	if c.Out != "-" {
		f, err := os.Create(c.Out)
		if err != nil {
			return errors.NewIO("create", c.Out, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = errors.NewIO("close", c.Out, cerr)
			}
		}()
		w = f
	}

	n, err := st.Export(env.Ctx, w, c.Org)
	if err != nil {
		return err
	}
	logging.Info("plans exported", "count", n, "db", c.DB, "out", c.Out)
	return nil
}

// PlansImportCmd upserts plans from an export file.
type PlansImportCmd struct {
	StoreFlags `embed:""`
	File       string `arg:"" help:"Export file to import" type:"existingfile"`
}

func (c *PlansImportCmd) Run(env *Env) error {
	f, err := os.Open(c.File)
	if err != nil {
		return errors.NewIO("open", c.File, err)
	}
	defer f.Close()

	st, err := store.Open(env.Ctx, c.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Import(env.Ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "imported %d plans\n", n)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(env *Env) error {
	info := sqlite.GetInfo()
	fmt.Fprintf(env.Out, "carry version %s (sqlite: %s, %s, cgo=%t)\n", version, info.DriverType, info.Package, sqlite.IsCGO())
	return nil
}

// newParser builds the kong parser. extra options are appended, so tests
// can override exit handling and writers.
func newParser(cli *CLI, stdout, stderr io.Writer, extra ...kong.Option) (*kong.Kong, error) {
	opts := []kong.Option{
		kong.Name("carry"),
		kong.Description("Carry - Bible passage resolver and study plan service"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Writers(stdout, stderr),
		kong.Configuration(yamlConfig, defaultConfigPath),
	}
	return kong.New(cli, append(opts, extra...)...)
}

// run parses args, configures logging and runs the selected command.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, extra ...kong.Option) error {
	var cli CLI
	parser, err := newParser(&cli, stdout, stderr, extra...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cli.LogLevel)
	format, _ := logging.ParseFormat(cli.LogFormat)
	logging.InitLoggerWriter(stderr, level, format)

	return kctx.Run(&Env{Ctx: ctx, Out: stdout, Err: stderr})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "carry: "+strings.TrimSpace(err.Error()))
		stop()
		os.Exit(1)
	}
}
