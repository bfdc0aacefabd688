package vm

import (
	"html"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iancoleman/strcase"
)

// ---------------------------------------------------------------------------
// Expression options
// ---------------------------------------------------------------------------

// Option identifies one of the options accepted after ';' in an expression.
type Option int

const (
	OptionAnchor Option = iota
	OptionFormat
	OptionNull
	OptionSeparator
	OptionWrap

	NumOptions = int(OptionWrap) + 1
)

var optionNames = [NumOptions]string{"anchor", "format", "null", "separator", "wrap"}

var optionsByName = map[string]Option{
	"anchor":    OptionAnchor,
	"format":    OptionFormat,
	"null":      OptionNull,
	"separator": OptionSeparator,
	"wrap":      OptionWrap,
}

// Value used when an option is named without '='.
var defaultOptionValues = map[Option]string{
	OptionAnchor: "true",
	OptionWrap:   "\n",
}

// LookupOption maps an option name to its Option.
func LookupOption(name string) (Option, bool) {
	o, ok := optionsByName[name]
	return o, ok
}

// OptionNames returns the supported option names.
func OptionNames() []string {
	return append([]string(nil), optionNames[:]...)
}

func (o Option) String() string {
	if int(o) >= 0 && int(o) < NumOptions {
		return optionNames[o]
	}
	return "unknown"
}

// Default returns the implied value of an option given without a value.
func (o Option) Default() (string, bool) {
	v, ok := defaultOptionValues[o]
	return v, ok
}

// optionSet is the value OpOptions pushes; slots are filled by OpStoreOption.
type optionSet struct {
	values [NumOptions]any
	set    [NumOptions]bool
}

// renderOptions is an optionSet with every value rendered to text.
type renderOptions struct {
	anchor    bool
	format    string
	hasFormat bool
	null      string
	hasNull   bool
	separator string
	hasSep    bool
	wrap      string
	hasWrap   bool
}

// ---------------------------------------------------------------------------
// Formats
// ---------------------------------------------------------------------------

// FormatFunc is a named string transform applied by the format option.
type FormatFunc func(s string) string

var builtinFormats = map[string]FormatFunc{
	"upper":           strings.ToUpper,
	"lower":           strings.ToLower,
	"cap":             capitalize,
	"title":           titleCase,
	"camel":           strcase.ToCamel,
	"lowerCamel":      strcase.ToLowerCamel,
	"snake":           strcase.ToSnake,
	"screaming-snake": strcase.ToScreamingSnake,
	"kebab":           strcase.ToKebab,
	"trim":            strings.TrimSpace,
	"xml-encode":      html.EscapeString,
	"url-encode":      url.QueryEscape,
}

// BuiltinFormat returns one of the predefined formats.
func BuiltinFormat(name string) (FormatFunc, bool) {
	f, ok := builtinFormats[name]
	return f, ok
}

func titleCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	start := true
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if start && unicode.IsLetter(r) {
			r = unicode.ToUpper(r)
		}
		start = unicode.IsSpace(r)
		sb.WriteRune(r)
	}
	return sb.String()
}
