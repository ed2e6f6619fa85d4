package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	idStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	opStyles    = map[domain.Op]lipgloss.Style{
		domain.OpCreate: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		domain.OpUpdate: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.OpRemove: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

type snapshotEvent struct {
	Seq     uint64          `json:"seq"`
	Resync  bool            `json:"resync"`
	Markers []domain.Marker `json:"markers"`
}

// printer renders stream events. It tracks marker kinds so removals, which
// carry no fields, can still be filtered.
type printer struct {
	w     io.Writer
	kinds map[domain.Kind]bool
	quiet bool
}

func newPrinter(w io.Writer, kinds []string, quiet bool) *printer {
	p := &printer{w: w, quiet: quiet}
	if len(kinds) > 0 {
		p.kinds = make(map[domain.Kind]bool, len(kinds))
		for _, k := range kinds {
			p.kinds[domain.ParseKind(k)] = true
		}
	}
	return p
}

func (p *printer) wants(k domain.Kind) bool {
	return p.kinds == nil || p.kinds[k]
}

func (p *printer) handle(ev sseEvent) error {
	switch ev.Name {
	case "snapshot":
		var s snapshotEvent
		if err := json.Unmarshal([]byte(ev.Data), &s); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		p.snapshot(s)
	case "change":
		var c domain.Change
		if err := json.Unmarshal([]byte(ev.Data), &c); err != nil {
			return fmt.Errorf("decode change: %w", err)
		}
		p.change(c)
	}
	return nil
}

func (p *printer) snapshot(s snapshotEvent) {
	title := "snapshot"
	if s.Resync {
		title = "resync"
	}
	var shown []domain.Marker
	for _, m := range s.Markers {
		if p.wants(m.Kind) {
			shown = append(shown, m)
		}
	}
	fmt.Fprintln(p.w, headerStyle.Render(fmt.Sprintf("%s seq=%d markers=%d", title, s.Seq, len(shown))))
	if p.quiet {
		return
	}
	for _, m := range shown {
		fmt.Fprintf(p.w, "  %s %s %s %s\n",
			idStyle.Render(m.ID),
			dimStyle.Render(fmt.Sprintf("[%s r%d]", m.Kind.DisplayName(), m.Revision)),
			m.Label,
			dimStyle.Render(fmt.Sprintf("(%.4f, %.4f)", m.Position.Lat, m.Position.Lon)),
		)
	}
}

func (p *printer) change(c domain.Change) {
	if !p.wants(c.Kind) {
		return
	}
	op := opStyles[c.Op].Render(fmt.Sprintf("%-6s", c.Op))
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		op,
		idStyle.Render(c.ID),
		dimStyle.Render(fmt.Sprintf("r%d seq=%d", c.Revision, c.Seq)),
		describeFields(c.Fields),
	)
}

func describeFields(f domain.Fields) string {
	var parts []string
	if f.Position != nil {
		parts = append(parts, fmt.Sprintf("position=(%.4f, %.4f)", f.Position.Lat, f.Position.Lon))
	}
	if f.Label != nil {
		parts = append(parts, fmt.Sprintf("label=%q", *f.Label))
	}
	if f.Color != nil {
		parts = append(parts, "color="+*f.Color)
	}
	keys := make([]string, 0, len(f.Payload))
	for k := range f.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f.Payload[k]))
	}
	return strings.Join(parts, " ")
}
