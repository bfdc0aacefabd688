// Package config handles stg.toml template group configuration.
package config

import (
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "stg.toml"

// Config represents an stg.toml file.
type Config struct {
	Group      Group      `toml:"group"`
	Delimiters Delimiters `toml:"delimiters"`
	Lexer      Lexer      `toml:"lexer"`
	Render     Render     `toml:"render"`
	Log        Log        `toml:"log"`

	// Dir is the directory containing the stg.toml file (set at load time).
	Dir string `toml:"-"`
}

// Group names the template group.
type Group struct {
	Name string `toml:"name"`
}

// Delimiters are the expression start and stop characters.
type Delimiters struct {
	Start string `toml:"start"`
	Stop  string `toml:"stop"`
}

// Lexer configures tokenizing.
type Lexer struct {
	SingleLine bool `toml:"single-line"`
}

// Render configures the interpreter.
type Render struct {
	MaxDepth  int    `toml:"max-depth"`
	LineWidth int    `toml:"line-width"`
	Newline   string `toml:"newline"`
}

// Log configures commonlog. Verbosity follows commonlog: -4 and below
// disables logging, 0 is notice, 1 info and 2 debug.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Group:      Group{Name: "default"},
		Delimiters: Delimiters{Start: "<", Stop: ">"},
		Render:     Render{MaxDepth: 256, Newline: "\n"},
		Log:        Log{Verbosity: 1},
	}
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, errors.Wrap(err, "parse error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown key %s", undecoded[0])
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load parses the stg.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", dir)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an stg.toml file, then loads
// it. It returns nil without an error when there is none.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that the delimiters are single distinct characters and
// that the render limits make sense.
func (c *Config) Validate() error {
	start, err := singleRune("start", c.Delimiters.Start)
	if err != nil {
		return err
	}
	stop, err := singleRune("stop", c.Delimiters.Stop)
	if err != nil {
		return err
	}
	switch {
	case start == stop && start != '$':
		// $...$ is the one conventional symmetric pair.
		return errors.Errorf("delimiters: start and stop are both %q", start)
	case start == '{' || start == '}' || stop == '{' || stop == '}':
		return errors.New("delimiters: curly braces delimit subtemplates")
	case c.Render.MaxDepth <= 0:
		return errors.Errorf("render: max-depth must be positive, got %d", c.Render.MaxDepth)
	case c.Render.LineWidth < 0:
		return errors.Errorf("render: line-width must not be negative, got %d", c.Render.LineWidth)
	case c.Render.Newline != "" && c.Render.Newline != "\n" && c.Render.Newline != "\r\n":
		return errors.Errorf("render: newline must be \"\\n\" or \"\\r\\n\", got %q", c.Render.Newline)
	}
	return nil
}

func singleRune(which, s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, errors.Errorf("delimiters: %s must be a single character, got %q", which, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// StartRune returns the start delimiter.
func (c *Config) StartRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiters.Start)
	return r
}

// StopRune returns the stop delimiter.
func (c *Config) StopRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiters.Stop)
	return r
}

// LogFilePath returns the log file, relative paths resolved against Dir, or
// nil for standard error.
func (c *Config) LogFilePath() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}

// ConfigureLogging sets up commonlog from the [log] section.
func (c *Config) ConfigureLogging() {
	commonlog.Configure(c.Log.Verbosity, c.LogFilePath())
}
