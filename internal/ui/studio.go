package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
)

// Runner is what the studio screen drives: a session plus flow actions.
type Runner interface {
	Connect(ctx context.Context) flow.Result
	Disconnect()
	Connected() bool
	Accounts() []common.Address
	Do(ctx context.Context, a flow.Action) flow.Result
	Latest() *flow.AllowanceSnapshot
}

// actionDisconnect is a studio-only button.
const actionDisconnect flow.Action = "disconnect"

const maxHistory = 8

type actionDoneMsg struct{ result flow.Result }

type studioTickMsg struct{}

// StudioModel is the interactive flow screen. Disconnected it offers only
// "Connect Wallet"; connected it offers the four flow actions. Actions run as
// commands, so several may be in flight at once.
type StudioModel struct {
	runner  Runner
	ctx     context.Context
	Network string
	Token   permit2.TokenInfo
	TxURL   func(hash string) string

	connected bool
	cursor    int
	running   map[flow.Action]int
	history   []flow.Result
	tally     Tally
	frame     int
	now       func() time.Time

	Quitting bool
}

// NewStudioModel creates the studio screen for runner.
func NewStudioModel(ctx context.Context, runner Runner, network string, tok permit2.TokenInfo) StudioModel {
	return StudioModel{
		runner:    runner,
		ctx:       ctx,
		Network:   network,
		Token:     tok,
		connected: runner.Connected(),
		running:   map[flow.Action]int{},
		now:       time.Now,
	}
}

// Buttons returns the actions currently offered.
func (m StudioModel) Buttons() []flow.Action {
	if !m.connected {
		return []flow.Action{flow.ActionConnect}
	}
	return append(append([]flow.Action{}, flow.Steps...), actionDisconnect)
}

// History returns the finished results, newest last.
func (m StudioModel) History() []flow.Result { return m.history }

// Tally counts every action finished on the screen, including those that
// scrolled out of History.
type Tally struct {
	Done   int
	Failed int
}

func (m StudioModel) Tally() Tally { return m.tally }

func (m StudioModel) Init() tea.Cmd { return studioTick() }

func studioTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return studioTickMsg{} })
}

func (m StudioModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.Quitting = true
			return m, tea.Quit
		case "left", "h", "up", "k", "shift+tab":
			if m.cursor > 0 {
				m.cursor--
			}
		case "right", "l", "down", "j", "tab":
			if m.cursor < len(m.Buttons())-1 {
				m.cursor++
			}
		case "enter", " ":
			return m.press(m.Buttons()[m.cursor])
		}

	case actionDoneMsg:
		m.running[msg.result.Action]--
		if m.running[msg.result.Action] <= 0 {
			delete(m.running, msg.result.Action)
		}
		m.history = append(m.history, msg.result)
		m.tally.Done++
		if !msg.result.OK() {
			m.tally.Failed++
		}
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.setConnected(m.runner.Connected())

	case studioTickMsg:
		m.frame++
		return m, studioTick()
	}
	return m, nil
}

func (m StudioModel) press(a flow.Action) (tea.Model, tea.Cmd) {
	if a == actionDisconnect {
		m.runner.Disconnect()
		m.setConnected(false)
		return m, nil
	}
	m.running[a]++
	runner, ctx := m.runner, m.ctx
	return m, func() tea.Msg {
		if a == flow.ActionConnect {
			return actionDoneMsg{result: runner.Connect(ctx)}
		}
		return actionDoneMsg{result: runner.Do(ctx, a)}
	}
}

func (m *StudioModel) setConnected(c bool) {
	if c != m.connected {
		m.cursor = 0
	}
	m.connected = c
}

func (m StudioModel) View() string {
	if m.Quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(Banner() + "\n\n")

	if !m.connected {
		sb.WriteString("  " + Meta("No wallet connected.") + "\n\n")
	} else {
		accounts := m.runner.Accounts()
		pairs := [][2]string{{"Network", m.Network}, {"Token", fmt.Sprintf("%s (%s)", m.Token.Symbol, TruncateAddr(m.Token.Address.Hex()))}}
		if len(accounts) == 2 {
			pairs = append(pairs,
				[2]string{"Owner", accounts[0].Hex()},
				[2]string{"Spender", accounts[1].Hex()})
		}
		sb.WriteString(KeyValueBlock("Session", pairs) + "\n")
		if snap := m.runner.Latest(); snap != nil {
			sb.WriteString(SnapshotBlock(snap, m.Token, m.now()) + "\n")
		}
		sb.WriteString("\n")
	}

	buttons := m.Buttons()
	rendered := make([]string, len(buttons))
	for i, a := range buttons {
		label := ActionLabel(a)
		if a == actionDisconnect {
			label = "Disconnect"
		}
		if n := m.running[a]; n > 0 {
			label = Frame(m.frame) + " " + label
		}
		if i == m.cursor {
			rendered[i] = StyleButtonFocused.Render(label)
		} else {
			rendered[i] = StyleButton.Render(label)
		}
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n\n")

	for _, r := range m.history {
		sb.WriteString("  " + ResultLine(r, m.TxURL) + "\n")
	}
	if len(m.history) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString(
		StyleMeta.Render("  [ ←→ / tab ]") + " move   " +
			StyleInfo.Render("[ Enter ]") + " press   " +
			StyleMeta.Render("[ q ]") + " quit\n")
	return sb.String()
}

// RunStudio runs the studio screen until the user quits and returns the
// tally of finished actions.
func RunStudio(m StudioModel) (Tally, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Tally{}, fmt.Errorf("studio: %w", err)
	}
	return final.(StudioModel).Tally(), nil
}
