package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/schema"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type methodInfo struct {
	name       string
	resultType string
	params     []paramInfo
	oneWay     bool
}

type paramInfo struct {
	name    string
	witType wit.Type
	typeStr string
}

var demoInfo = describe(demoMethods)

func describe(methods []schema.Method) []methodInfo {
	out := make([]methodInfo, 0, len(methods))
	for _, m := range methods {
		mi := methodInfo{name: m.Name, oneWay: m.OneWay}
		for _, p := range m.Params {
			mi.params = append(mi.params, paramInfo{
				name:    p.Name,
				witType: p.Type,
				typeStr: witTypeStr(p.Type),
			})
		}
		if m.Result != nil {
			mi.resultType = witTypeStr(m.Result)
		}
		out = append(out, mi)
	}
	return out
}

func formatMethod(m methodInfo, name, typ func(a ...any) string) string {
	var params []string
	for _, p := range m.params {
		params = append(params, p.name+": "+typ(p.typeStr))
	}
	result := ""
	switch {
	case m.oneWay:
		result = " (one-way)"
	case m.resultType != "":
		result = " -> " + typ(m.resultType)
	}
	return name(m.name) + "(" + strings.Join(params, ", ") + ")" + result
}

func styled(s lipgloss.Style) func(a ...any) string {
	return func(a ...any) string { return s.Render(fmt.Sprint(a...)) }
}

type interactiveModel struct {
	err      error
	iface    *schema.Interface
	remote   *bindings.Remote
	target   string
	result   string
	methods  []methodInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectMethod modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(iface *schema.Interface, remote *bindings.Remote, target string) *interactiveModel {
	return &interactiveModel{
		iface:  iface,
		remote: remote,
		target: target,
		state:  stateSelectMethod,
	}
}

type versionMsg struct {
	err     error
	version uint32
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.queryVersion
}

// queryVersion checks the connection before the first call.
func (m *interactiveModel) queryVersion() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := m.remote.QueryVersion(ctx)
	return versionMsg{version: v, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectMethod && m.selected < len(m.methods)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectMethod:
				if len(m.methods) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callMethod
				}
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callMethod

			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectMethod
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}
		}

	case versionMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.methods = demoInfo

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.methods[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callMethod() tea.Msg {
	f := m.methods[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	args, err := parseArgs(f.name, raw)
	if err != nil {
		return callResultMsg{err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := m.iface.Call(m.remote, f.name, args).Wait(ctx)
	if err != nil {
		return callResultMsg{err: err}
	}
	if f.oneWay {
		return callResultMsg{result: "sent"}
	}
	return callResultMsg{result: formatValue(out[schema.ResultField])}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.methods) == 0 {
		return "Connecting..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(m.iface.Name))
	b.WriteString(" ")
	b.WriteString(m.target)
	fmt.Fprintf(&b, " v%d", m.remote.Version())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod:
		b.WriteString("Select a method to call:\n\n")
		for i, f := range m.methods {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatMethod(f, fmt.Sprint, fmt.Sprint)))
			} else {
				b.WriteString("  " + formatMethod(f, styled(funcStyle), styled(typeStyle)))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.methods[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.name))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.methods[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.name))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(iface *schema.Interface, remote *bindings.Remote, target string) error {
	p := tea.NewProgram(newInteractiveModel(iface, remote, target), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
