// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, deep teals on dark terminals.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

type styles struct {
	title   lipgloss.Style
	key     lipgloss.Style
	muted   lipgloss.Style
	dirty   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	box     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
		key:     lipgloss.NewStyle().Foreground(colorTealPrimary),
		muted:   lipgloss.NewStyle().Foreground(colorSlate),
		dirty:   lipgloss.NewStyle().Foreground(colorWarning),
		success: lipgloss.NewStyle().Foreground(colorTealBright),
		failure: lipgloss.NewStyle().Foreground(colorError),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDeep).
			Padding(0, 1),
	}
}

// printer writes command output. Styling is applied only when the
// destination is a terminal; JSON mode emits one document per call.
type printer struct {
	w      io.Writer
	styled bool
	json   bool
	s      styles
}

func newPrinter(w io.Writer, jsonMode bool) *printer {
	return &printer{
		w:      w,
		styled: !jsonMode && isTerminal(w),
		json:   jsonMode,
		s:      newStyles(),
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

func (p *printer) Title(text string) {
	fmt.Fprintln(p.w, p.render(p.s.title, text))
}

func (p *printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) Key(text string) string     { return p.render(p.s.key, text) }
func (p *printer) Muted(text string) string   { return p.render(p.s.muted, text) }
func (p *printer) Dirty(text string) string   { return p.render(p.s.dirty, text) }
func (p *printer) Success(text string) string { return p.render(p.s.success, text) }
func (p *printer) Failure(text string) string { return p.render(p.s.failure, text) }

// Box prints lines in a rounded box on terminals, plain otherwise.
func (p *printer) Box(lines ...string) {
	text := strings.Join(lines, "\n")
	if p.styled {
		text = p.s.box.Render(text)
	}
	fmt.Fprintln(p.w, text)
}

// JSON writes v as indented JSON.
func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
