package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/bleadv/pkg/codec"
	"golang.org/x/term"
)

// printer writes command output, coloured only on a terminal.
type printer struct {
	w     io.Writer
	label *color.Color
	value *color.Color
	dim   *color.Color
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:     w,
		label: color.New(color.FgCyan, color.Bold),
		value: color.New(color.FgGreen),
		dim:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.label, p.value, p.dim} {
		if isTerminal(w) {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) field(name string, value any) {
	p.printf("  %s %s\n", p.label.Sprintf("%-8s", name+":"), p.value.Sprint(value))
}

func (p *printer) entities(ents []codec.EntityAttrs) {
	for _, e := range ents {
		p.printf("    %s\n", p.dim.Sprint(e.String()))
	}
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAttrValue reads a command line attribute value as bool, number or
// string, in that order.
func parseAttrValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "on":
		return true
	case "false", "off":
		return false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
