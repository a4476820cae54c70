// Package render prints command results as json, yaml or a table.
//
// Without --format, a terminal gets a table and anything else gets JSON.
// --no-color only changes table headers.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts json, table or yaml in any case. "" is returned
// unchanged so NewRenderer can pick by terminal.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes values in one Format.
type Renderer struct {
	format Format
	header *color.Color
	out    io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if IsTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), c.App.Writer), nil
}

// NewRendererWithWriter creates a renderer with a custom writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	if out == nil {
		out = os.Stdout
	}
	r := &Renderer{format: format, out: out}
	if !noColor {
		r.header = color.New(color.Bold)
		r.header.EnableColor()
	}
	return r
}

// Format reports the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render outputs data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderTable(data any) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v := deref(reflect.ValueOf(data))

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, _ = fmt.Fprintln(tw, "(no results)")
			break
		}
		names, _ := fieldsOf(deref(v.Index(0)))
		head := make([]string, len(names))
		for i, n := range names {
			head[i] = r.bold(strings.ToUpper(n))
		}
		_, _ = fmt.Fprintln(tw, strings.Join(head, "\t"))
		for i := range v.Len() {
			_, cells := fieldsOf(deref(v.Index(i)))
			_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	case reflect.Struct, reflect.Map:
		names, cells := fieldsOf(v)
		for i, n := range names {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", r.bold(n+":"), cells[i])
		}
	default:
		_, _ = fmt.Fprintf(tw, "%v\n", data)
	}
	return tw.Flush()
}

func (r *Renderer) bold(s string) string {
	if r.header == nil {
		return s
	}
	return r.header.Sprint(s)
}

// fieldsOf returns column names and cell text for a struct (exported
// fields, named by json tag) or a map (keys sorted).
func fieldsOf(v reflect.Value) (names, cells []string) {
	switch v.Kind() {
	case reflect.Struct:
		for _, f := range reflect.VisibleFields(v.Type()) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			names = append(names, columnName(f))
			cells = append(cells, cell(v.FieldByIndex(f.Index)))
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			names = append(names, fmt.Sprint(k.Interface()))
			cells = append(cells, cell(v.MapIndex(k)))
		}
	}
	return names, cells
}

func columnName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(f.Name)
	}
	return name
}

// cell summarizes nested values so a row stays one line.
func cell(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return ""
	}
	if s, ok := v.Interface().(fmt.Stringer); ok && v.Kind() == reflect.Struct {
		return s.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
