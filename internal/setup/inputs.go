package setup

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type inputField struct {
	input   textinput.Model
	focused bool
}

func newInputField(placeholder string, echo textinput.EchoMode) *inputField {
	in := textinput.New()
	in.Placeholder = placeholder
	in.EchoMode = echo
	if echo == textinput.EchoPassword {
		in.EchoCharacter = '•'
	}
	return &inputField{input: in}
}

func (f *inputField) focus() {
	f.focused = true
	f.input.Focus()
}

func (f *inputField) blur() {
	f.focused = false
	f.input.Blur()
}

func (f *inputField) value() string { return strings.TrimSpace(f.input.Value()) }

func (f *inputField) setValue(v string) { f.input.SetValue(v) }

func (f *inputField) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return cmd
}

// inputGroup is a form of fields answered in order; Enter moves to the next.
type inputGroup struct {
	labels  []string
	fields  []*inputField
	current int
}

func newInputGroup(fields ...*inputField) *inputGroup {
	return &inputGroup{fields: fields, labels: make([]string, len(fields))}
}

func (g *inputGroup) label(i int, s string) *inputGroup {
	g.labels[i] = s
	return g
}

func (g *inputGroup) focusFirst() {
	for _, f := range g.fields {
		f.blur()
	}
	g.current = 0
	if len(g.fields) > 0 {
		g.fields[0].focus()
	}
}

// next focuses the following field and reports false when the group is done.
func (g *inputGroup) next() bool {
	if g.current >= len(g.fields)-1 {
		return false
	}
	g.fields[g.current].blur()
	g.current++
	g.fields[g.current].focus()
	return true
}

func (g *inputGroup) update(msg tea.Msg) tea.Cmd {
	if len(g.fields) == 0 {
		return nil
	}
	return g.fields[g.current].update(msg)
}

func (g *inputGroup) values() []string {
	out := make([]string, len(g.fields))
	for i, f := range g.fields {
		out[i] = f.value()
	}
	return out
}

func (g *inputGroup) view() string {
	var b strings.Builder
	for i, f := range g.fields {
		if g.labels[i] != "" {
			b.WriteString(g.labels[i])
			b.WriteString("\n")
		}
		b.WriteString(f.input.View())
		b.WriteString("\n")
	}
	return b.String()
}
