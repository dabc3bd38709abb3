package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FocuswithJustin/carry/core/plan"
	"github.com/FocuswithJustin/carry/internal/store"
)

// runCLI runs the command line with an isolated home directory.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestResolveCmd_Text(t *testing.T) {
	out, _, err := runCLI(t, "resolve", "John 3:16-18", "genesis 1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"INPUT", "John 3:16-18", "JHN (43)", "16-18", "GEN (1)", "1-31"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResolveCmd_JSON(t *testing.T) {
	out, _, err := runCLI(t, "resolve", "--json", "Romans 8:28")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var results []resolveResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Verse == nil {
		t.Fatalf("results = %+v", results)
	}
	v := results[0].Verse
	if v.BookID != 45 || v.ChapterNumber != 8 || v.VerseFrom != 28 || v.VerseTo != 28 {
		t.Errorf("verse = %+v", v)
	}
}

func TestResolveCmd_Failures(t *testing.T) {
	out, _, err := runCLI(t, "resolve", "--json", "John 3:16", "Frodo 1:1", "John 99")
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Fatalf("err = %v, want 2 of 3 failures", err)
	}

	var results []resolveResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var codes []string
	for _, r := range results {
		if r.Error != nil {
			codes = append(codes, r.Error.Code)
		}
	}
	want := []string{"ERROR_BOOK_NOT_FOUND", "ERROR_CHAPTER_NOT_FOUND"}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("error codes mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCmd_Aliases(t *testing.T) {
	if _, _, err := runCLI(t, "resolve", "JHN 3:16"); err == nil {
		t.Fatal("abbreviation resolved without --aliases")
	}

	t.Run("flag", func(t *testing.T) {
		if _, _, err := runCLI(t, "resolve", "--aliases", "JHN 3:16"); err != nil {
			t.Errorf("resolve --aliases: %v", err)
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("CARRY_ALIASES", "true")
		if _, _, err := runCLI(t, "resolve", "Song of Solomon 2:1"); err != nil {
			t.Errorf("resolve with CARRY_ALIASES: %v", err)
		}
	})

	t.Run("config section", func(t *testing.T) {
		cfg := writeConfig(t, "resolve:\n  aliases: true\n")
		if _, _, err := runCLI(t, "--config", cfg, "resolve", "1co 13"); err != nil {
			t.Errorf("resolve with config: %v", err)
		}
	})
}

func TestBooksCmd(t *testing.T) {
	tests := []struct {
		testament string
		wantLines int
	}{
		{"", 67},
		{"OT", 40},
		{"nt", 28},
	}
	for _, tt := range tests {
		t.Run("testament="+tt.testament, func(t *testing.T) {
			args := []string{"books"}
			if tt.testament != "" {
				args = append(args, "--testament", tt.testament)
			}
			out, _, err := runCLI(t, args...)
			if err != nil {
				t.Fatalf("books: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(out), "\n")
			if len(lines) != tt.wantLines {
				t.Errorf("got %d lines, want %d", len(lines), tt.wantLines)
			}
		})
	}

	if _, _, err := runCLI(t, "books", "--testament", "apocrypha"); err == nil {
		t.Error("unknown testament accepted")
	}
}

func TestBooksCmd_JSON(t *testing.T) {
	out, _, err := runCLI(t, "books", "--json", "--testament", "NT")
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	var books []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &books); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(books) != 27 || books[0].Name != "Matthew" || books[26].ID != 66 {
		t.Errorf("books = %d entries, first %+v", len(books), books[0])
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "carry version "+version) || !strings.Contains(out, "cgo=") {
		t.Errorf("output = %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, _, err := runCLI(t, "frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestServeCmd_Config(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CARRY_RATE_BURST", "7")
	cfgFile := writeConfig(t, "serve:\n  port: 9100\n  allowed-origins:\n    - https://a.test\n    - https://*.b.test\nrate-limit: 30\n")

	var cli CLI
	var out bytes.Buffer
	parser, err := newParser(&cli, &out, &out)
	if err != nil {
		t.Fatalf("newParser: %v", err)
	}
	if _, err := parser.Parse([]string{"--config", cfgFile, "serve", "--db", "/tmp/x.db", "--aliases"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := cli.Serve.config()
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100 from config", cfg.Port)
	}
	if cfg.RateLimitRequests != 30 {
		t.Errorf("RateLimitRequests = %d, want 30 from top-level config", cfg.RateLimitRequests)
	}
	if cfg.RateLimitBurst != 7 {
		t.Errorf("RateLimitBurst = %d, want 7 from env", cfg.RateLimitBurst)
	}
	if cfg.ResolveCacheSize != 4096 {
		t.Errorf("ResolveCacheSize = %d, want default 4096", cfg.ResolveCacheSize)
	}
	if cfg.DBPath != "/tmp/x.db" || !cfg.Aliases || cfg.Version != version {
		t.Errorf("cfg = %+v", cfg)
	}
	if diff := cmp.Diff([]string{"https://a.test", "https://*.b.test"}, cfg.AllowedOrigins); diff != "" {
		t.Errorf("AllowedOrigins mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPlansExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srcDB := filepath.Join(dir, "src.db")
	dstDB := filepath.Join(dir, "dst.db")
	archive := filepath.Join(dir, "plans.jsonl.xz")

	src, err := store.Open(ctx, srcDB)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	for _, org := range []string{"org-1", "org-1", "org-2"} {
		if _, err := src.Create(ctx, org, plan.New("Gospels", plan.PaceWeek, 4)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	src.Close()

	if _, _, err := runCLI(t, "plans", "export", "--db", srcDB, "--org", "org-1", "-o", archive); err != nil {
		t.Fatalf("export: %v", err)
	}
	out, _, err := runCLI(t, "plans", "import", "--db", dstDB, archive)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if strings.TrimSpace(out) != "imported 2 plans" {
		t.Errorf("import output = %q", out)
	}

	dst, err := store.Open(ctx, dstDB)
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}
	defer dst.Close()
	entries, err := dst.List(ctx, "org-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("imported %d plans for org-1, want 2", len(entries))
	}
}

func TestPlansImport_MissingFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "plans.db")
	if _, _, err := runCLI(t, "plans", "import", "--db", db, filepath.Join(t.TempDir(), "missing.xz")); err == nil {
		t.Error("import of missing file succeeded")
	}
}

func TestLookupConfig(t *testing.T) {
	values := map[string]any{
		"log-level": "debug",
		"db":        "top.db",
		"plans": map[string]any{
			"db": "plans.db",
			"export": map[string]any{
				"org": "org-7",
			},
		},
		"rate_limit": 15,
	}

	tests := []struct {
		name   string
		path   []string
		flag   string
		want   any
		wantOK bool
	}{
		{"top level", nil, "log-level", "debug", true},
		{"nested section wins", []string{"plans", "export"}, "db", "plans.db", true},
		{"deepest section", []string{"plans", "export"}, "org", "org-7", true},
		{"falls back to top", []string{"serve"}, "db", "top.db", true},
		{"underscore key", []string{"serve"}, "rate-limit", 15, true},
		{"section is not a value", nil, "plans", nil, false},
		{"missing", []string{"serve"}, "port", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lookupConfig(values, tt.path, tt.flag)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("lookupConfig() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestConfigValue(t *testing.T) {
	tests := []struct {
		in      any
		want    any
		wantErr bool
	}{
		{"x", "x", false},
		{9000, "9000", false},
		{true, "true", false},
		{[]any{"a", 2}, "a,2", false},
		{[]any{nil, "https://a.test", nil}, "https://a.test", false},
		{[]any{nil}, "", false},
		{[]any{[]any{"x"}}, "x", false},
		{[]any{map[string]any{"k": "v"}}, nil, true},
		{nil, nil, false},
		{map[string]any{"k": "v"}, nil, true},
	}
	for _, tt := range tests {
		got, err := configValue(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("configValue(%v) = %v, %v", tt.in, got, err)
		}
	}
}

func TestPlansExport_OutputErrors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "plans.db")
	if _, _, err := runCLI(t, "plans", "export", "--db", db, "-o", dir); err == nil {
		t.Error("export to a directory succeeded")
	}

	out := filepath.Join(dir, "empty.jsonl.xz")
	if _, _, err := runCLI(t, "plans", "export", "--db", db, "-o", out); err != nil {
		t.Fatalf("export of empty store: %v", err)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		t.Errorf("export file not flushed: %v", err)
	}
}
