package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tliron/commonlog"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[group]
name = "java"

[delimiters]
start = "$"
stop = "$"

[lexer]
single-line = true

[render]
max-depth = 32
line-width = 72
newline = "\r\n"

[log]
verbosity = 2
file = "stg.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := &Config{
		Group:      Group{Name: "java"},
		Delimiters: Delimiters{Start: "$", Stop: "$"},
		Lexer:      Lexer{SingleLine: true},
		Render:     Render{MaxDepth: 32, LineWidth: 72, Newline: "\r\n"},
		Log:        Log{Verbosity: 2, File: "stg.log"},
		Dir:        c.Dir,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if c.StartRune() != '$' || c.StopRune() != '$' {
		t.Errorf("delimiters = %q %q", c.StartRune(), c.StopRune())
	}
	if p := c.LogFilePath(); p == nil || *p != filepath.Join(c.Dir, "stg.log") {
		t.Errorf("LogFilePath = %v", p)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[group]\nname = \"x\"\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.StartRune() != '<' || c.StopRune() != '>' {
		t.Errorf("delimiters = %q %q, want < >", c.StartRune(), c.StopRune())
	}
	if c.Render.MaxDepth != 256 {
		t.Errorf("max-depth = %d, want 256", c.Render.MaxDepth)
	}
	if c.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", c.Log.Verbosity)
	}
	if c.LogFilePath() != nil {
		t.Error("expected nil log file")
	}
	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing stg.toml")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[delimiters\n", "parse error"},
		{"unknown key", "[render]\ndepth = 3\n", "unknown key render.depth"},
		{"long start", "[delimiters]\nstart = \"<<\"\n", "start must be a single character"},
		{"empty stop", "[delimiters]\nstop = \"\"\n", "stop must be a single character"},
		{"same", "[delimiters]\nstart = \"#\"\nstop = \"#\"\n", "start and stop are both"},
		{"brace", "[delimiters]\nstart = \"{\"\n", "curly braces"},
		{"depth", "[render]\nmax-depth = 0\n", "max-depth must be positive"},
		{"width", "[render]\nline-width = -1\n", "line-width must not be negative"},
		{"newline", "[render]\nnewline = \"\\r\"\n", "newline must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseQuietVerbosity(t *testing.T) {
	c, err := Parse([]byte("[log]\nverbosity = -4\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Log.Verbosity != -4 {
		t.Errorf("verbosity = %d, want -4", c.Log.Verbosity)
	}
}

func TestConfigureLogging(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[log]\nverbosity = 2\nfile = \"stg.log\"\n")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { commonlog.Configure(0, nil) })

	c.ConfigureLogging()
	if _, err := os.Stat(filepath.Join(dir, "stg.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
	if !commonlog.AllowLevel(commonlog.Debug, "stg", "group") {
		t.Error("verbosity 2 should allow debug messages")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[group]\nname = \"found\"\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c == nil || c.Group.Name != "found" {
		t.Fatalf("FindAndLoad = %+v, want group found", c)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c != nil {
		t.Skipf("found %s above the temp directory", c.Dir)
	}
}
