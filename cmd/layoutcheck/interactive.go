package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/layoutcheck/errors"
	"github.com/wippyai/layoutcheck/layout"
	"github.com/wippyai/layoutcheck/loader"
	"github.com/wippyai/layoutcheck/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// visibleRows is how many nodes the list shows at once.
const visibleRows = 15

type browserModel struct {
	err      error
	in       *inspection
	opts     options
	cfg      loader.Config
	nodes    []nodeEntry
	shown    []int
	filter   textinput.Model
	selected int
	loaded   bool
}

type nodeEntry struct {
	key  string
	kind string
	h    layout.Handle
}

type loadedMsg struct {
	err error
	in  *inspection
}

func newBrowserModel(o options, cfg loader.Config) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "filter types"
	ti.Prompt = "/ "
	ti.Focus()
	return &browserModel{opts: o, cfg: cfg, filter: ti}
}

func (m *browserModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.load)
}

func (m *browserModel) load() tea.Msg {
	in, err := inspect(context.Background(), m.opts, m.cfg)
	return loadedMsg{in: in, err: err}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "ctrl+k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "ctrl+j":
			if m.selected < len(m.shown)-1 {
				m.selected++
			}
			return m, nil
		}

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.in = msg.in
		m.nodes = entries(msg.in.found)
		m.applyFilter()
		return m, nil
	}

	var cmd tea.Cmd
	before := m.filter.Value()
	m.filter, cmd = m.filter.Update(msg)
	if m.filter.Value() != before {
		m.applyFilter()
	}
	return m, cmd
}

func entries(reg *registry.Registry) []nodeEntry {
	if reg == nil {
		return nil
	}
	var out []nodeEntry
	for h, tl := range reg.All() {
		out = append(out, nodeEntry{h: h, key: tl.ID.Key(), kind: tl.Kind().String()})
	}
	return out
}

func (m *browserModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.shown = m.shown[:0]
	for i, n := range m.nodes {
		if q == "" || strings.Contains(strings.ToLower(n.key), q) || strings.Contains(n.kind, q) {
			m.shown = append(m.shown, i)
		}
	}
	if m.selected >= len(m.shown) {
		m.selected = max(0, len(m.shown)-1)
	}
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if !m.loaded {
		return "Loading library..."
	}

	var b strings.Builder
	h := m.in.header
	b.WriteString(titleStyle.Render("Layout Browser"))
	b.WriteString(" ")
	b.WriteString(m.opts.lib)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s, header abi %s\n", nameStyle.Render(h.Name), h.Version, h.ABI)
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.in.found == nil {
		b.WriteString("The library carries no layout.\n\n")
		b.WriteString(helpStyle.Render("esc quit"))
		return b.String()
	}

	b.WriteString(m.filter.View())
	b.WriteString("\n\n")

	start := 0
	if m.selected >= visibleRows {
		start = m.selected - visibleRows + 1
	}
	end := min(len(m.shown), start+visibleRows)
	for i := start; i < end; i++ {
		n := m.nodes[m.shown[i]]
		line := fmt.Sprintf("%-5s %-14s %s", n.h, n.kind, n.key)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + kindStyle.Render(fmt.Sprintf("%-5s %-14s", n.h, n.kind)) + " " + n.key)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%d of %d types\n", len(m.shown), len(m.nodes))

	if len(m.shown) > 0 {
		b.WriteString(detailStyle.Render(describe(m.in.found, m.nodes[m.shown[m.selected]].h)))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("type to filter • ↑/↓ select • esc quit"))
	return b.String()
}

func (m *browserModel) statusLine() string {
	if !m.in.checked {
		return helpStyle.Render("no expected layout given")
	}
	if m.in.checkErr == nil {
		return okStyle.Render("compatible")
	}
	var report *errors.CompatibilityError
	if errors.As(m.in.checkErr, &report) {
		return errorStyle.Render(fmt.Sprintf("incompatible: %d mismatch(es)", len(report.Mismatches)))
	}
	return errorStyle.Render(m.in.checkErr.Error())
}

// describe renders one node with its members on separate lines.
func describe(reg *registry.Registry, h layout.Handle) string {
	tl, ok := reg.Resolve(h)
	if !ok {
		return h.String()
	}
	var b strings.Builder
	b.WriteString(reg.Format(h))
	if tl.ID.Version != "" {
		fmt.Fprintf(&b, "\nversion %s", tl.ID.Version)
	}
	writeFields := func(indent string, fields []layout.Field) {
		for _, f := range fields {
			cond := ""
			if f.Conditional {
				cond = " (conditional)"
			}
			fmt.Fprintf(&b, "\n%s%-12s +%-4d %s%s", indent, f.Name, f.Offset, reg.Name(f.Type), cond)
		}
	}
	switch s := tl.Shape.(type) {
	case *layout.Struct:
		writeFields("  ", s.Fields)
	case *layout.PrefixStruct:
		fmt.Fprintf(&b, "\nprefix: first %d field(s)", s.FirstSuffixField)
		writeFields("  ", s.Fields)
	case *layout.Enum:
		fmt.Fprintf(&b, "\nrepr %s, %s", s.Repr, s.Exhaustiveness)
		for _, v := range s.Variants {
			fmt.Fprintf(&b, "\n  %s = %d", v.Name, v.Discriminant)
			writeFields("    ", v.Fields)
		}
	case *layout.Func:
		for i, p := range s.Params {
			fmt.Fprintf(&b, "\n  param%d  %s", i, reg.Name(p))
		}
		for i, r := range s.Results {
			fmt.Fprintf(&b, "\n  result%d %s", i, reg.Name(r))
		}
	}
	return b.String()
}

func runInteractive(o options, cfg loader.Config) error {
	p := tea.NewProgram(newBrowserModel(o, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
