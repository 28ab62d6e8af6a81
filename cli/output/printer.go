package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// Printer renders structured CLI messages without relying on the logger.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter() *Printer {
	return &Printer{w: os.Stdout}
}

// WithWriter sends plain and YAML output to w instead of stdout.
func (p *Printer) WithWriter(w io.Writer) *Printer {
	p.w = w
	return p
}

func (p *Printer) Info(msg string, fields map[string]any) {
	p.printWith(pterm.Info, msg, fields)
}

func (p *Printer) Success(msg string, fields map[string]any) {
	p.printWith(pterm.Success, msg, fields)
}

func (p *Printer) Error(msg string, fields map[string]any) {
	p.printWith(pterm.Error, msg, fields)
}

func (p *Printer) Warn(msg string, fields map[string]any) {
	p.printWith(pterm.Warning, msg, fields)
}

// Line writes msg verbatim followed by a newline.
func (p *Printer) Line(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, msg)
}

// YAML writes v as one YAML document, prefixed with a "---" separator so a
// stream of records stays parseable.
func (p *Printer) YAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("render yaml: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "---\n%s", out); err != nil {
		return err
	}
	return nil
}

func (p *Printer) printWith(logger pterm.PrefixPrinter, msg string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger = *logger.WithWriter(p.w)
	if len(fields) == 0 {
		logger.Println(msg)
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logger.Println(msg)
	for _, k := range keys {
		fmt.Fprintf(p.w, "  %s: %v\n", k, fields[k])
	}
}
