package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dmsp/internal/peptide"
	"dmsp/internal/predict"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Colors
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	surfaceColor   = lipgloss.Color("#1F2937") // Dark gray
	textColor      = lipgloss.Color("#F3F4F6") // Light gray
	mutedColor     = lipgloss.Color("#9CA3AF") // Muted gray
	borderColor    = lipgloss.Color("#374151") // Border gray
)

// Styles
var (
	containerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor)

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(textColor).
			Background(surfaceColor).
			Padding(0, 1)

	detectableStyle   = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	undetectableStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	labelStyle        = lipgloss.NewStyle().Foreground(mutedColor)
)

type listItem struct {
	row predict.Row
}

func (i listItem) FilterValue() string { return i.row.Accession + " " + i.row.Sequence }

func (i listItem) Title() string { return i.row.Accession }

func (i listItem) Description() string {
	return fmt.Sprintf("%s    p=%s    %s", i.row.Sequence, i.row.Prob, labelText(i.row.Label))
}

func labelText(label string) string {
	if label == predict.Detectable {
		return detectableStyle.Render("detectable")
	}
	return undetectableStyle.Render("undetectable")
}

type mode int

const (
	modeAll mode = iota
	modeDetectable
	modeUndetectable
)

func (m mode) String() string {
	switch m {
	case modeAll:
		return "All"
	case modeDetectable:
		return "Detectable"
	case modeUndetectable:
		return "Undetectable"
	default:
		return "Unknown"
	}
}

func (m mode) keep(r predict.Row) bool {
	switch m {
	case modeDetectable:
		return r.Label == predict.Detectable
	case modeUndetectable:
		return r.Label == predict.Undetectable
	default:
		return true
	}
}

type model struct {
	list        list.Model
	rows        []predict.Row
	shown       int
	source      string
	truncated   bool
	maxLen      int
	currentMode mode
	showHelp    bool
	width       int
	height      int
}

func newModel(source string, rows []predict.Row, truncated bool, maxLen int) model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Peptide predictions"
	l.SetShowStatusBar(false)
	l.SetShowPagination(true)
	l.SetFilteringEnabled(true)

	m := model{list: l, rows: rows, source: source, truncated: truncated, maxLen: maxLen, currentMode: modeAll}
	return m.applyMode()
}

// applyMode refills the list with the rows the current mode keeps.
func (m model) applyMode() model {
	items := make([]list.Item, 0, len(m.rows))
	for _, r := range m.rows {
		if m.currentMode.keep(r) {
			items = append(items, listItem{row: r})
		}
	}
	m.list.SetItems(items)
	m.list.ResetSelected()
	m.shown = len(items)
	return m
}

func (m model) cycleMode() model {
	m.currentMode = (m.currentMode + 1) % 3
	return m.applyMode()
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// left panel takes 1/3 of the width
		m.list.SetWidth(msg.Width / 3)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case tea.KeyMsg:
		// keys go to the filter input while filtering
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "h":
			m.showHelp = !m.showHelp
			return m, nil
		case "tab":
			return m.cycleMode(), nil
		case "1", "2", "3":
			m.currentMode = mode(msg.String()[0] - '1')
			return m.applyMode(), nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelpModal()
	}
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.renderLeftPanel(), m.renderRightPanel())
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m model) renderLeftPanel() string {
	return containerStyle.
		Width(m.width/3 - 2).
		Height(m.height - 4).
		Render(m.list.View())
}

func (m model) renderRightPanel() string {
	panel := containerStyle.Width(m.width*2/3 - 2).Height(m.height - 4)
	item := m.list.SelectedItem()
	if item == nil {
		return panel.Render("No prediction selected")
	}
	return panel.Render(strings.Join(m.buildRightLines(item.(listItem).row), "\n"))
}

// buildRightLines renders the detail pane for one row: accession, probability,
// label, the peptide and its encoded vector, both wrapped to the pane width.
func (m model) buildRightLines(r predict.Row) []string {
	inner := m.width*2/3 - 8
	if inner < 10 {
		inner = 10
	}
	lines := []string{
		titleStyle.Render(r.Accession),
		labelStyle.Render("Prob: ") + r.Prob + labelStyle.Render("    Detectability: ") + labelText(r.Label),
		"",
		labelStyle.Render(fmt.Sprintf("Peptide (%d residues):", len(r.Sequence))),
	}
	lines = append(lines, wrap(r.Sequence, inner)...)
	lines = append(lines, "", labelStyle.Render(fmt.Sprintf("Encoded vector (width %d):", m.maxLen)))
	v, err := peptide.Encode(r.Sequence, m.maxLen)
	if err != nil {
		return append(lines, undetectableStyle.Render(err.Error()))
	}
	codes := make([]string, len(v))
	for i, c := range v {
		codes[i] = fmt.Sprint(c)
	}
	return append(lines, wrapWords(codes, inner)...)
}

// wrap splits s into lines of at most width bytes.
func wrap(s string, width int) []string {
	var out []string
	for len(s) > width {
		out = append(out, s[:width])
		s = s[width:]
	}
	return append(out, s)
}

// wrapWords joins words with spaces, breaking lines before width is exceeded.
func wrapWords(words []string, width int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (m model) renderStatusBar() string {
	leftInfo := fmt.Sprintf("%d/%d rows", m.list.Index()+1, m.shown)
	if m.truncated {
		leftInfo += " (limit reached)"
	}
	centerInfo := fmt.Sprintf("Mode: %s", m.currentMode)
	rightInfo := "Press 'h' for help, 'q' to quit"

	spacing := m.width - len(leftInfo) - len(centerInfo) - len(rightInfo) - 6
	var statusContent string
	if spacing > 0 {
		leftSpacing := spacing / 2
		statusContent = leftInfo + strings.Repeat(" ", leftSpacing) + centerInfo + strings.Repeat(" ", spacing-leftSpacing) + rightInfo
	} else {
		// narrow terminals
		statusContent = fmt.Sprintf("%s | %s", leftInfo, centerInfo)
	}
	return statusBarStyle.Width(m.width).Render(statusContent)
}

func (m model) renderHelpModal() string {
	helpContent := `Peptide Predictions Browser - Help

Navigation:
  up/down, j/k  Navigate list
  /             Filter by accession or peptide

View Modes:
  tab           Cycle modes
  1             All rows
  2             Detectable only
  3             Undetectable only

General:
  h             Toggle this help
  q, Ctrl+C     Quit

File: ` + m.source + `
Current Mode: ` + m.currentMode.String() + `
Rows loaded: ` + fmt.Sprint(len(m.rows)) + `
`
	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(primaryColor).
		Padding(1, 2).
		Background(surfaceColor).
		Foreground(textColor).
		Width(60).
		Render(helpContent)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}

// loadRows reads at most limit rows of a predictions file. truncated reports
// whether more rows were left unread.
func loadRows(r io.Reader, limit int) (rows []predict.Row, truncated bool, err error) {
	rd, err := predict.NewReader(r)
	if err != nil {
		return nil, false, err
	}
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return rows, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if limit > 0 && len(rows) == limit {
			return rows, true, nil
		}
		rows = append(rows, row)
	}
}

func main() {
	var (
		limit  int
		maxLen int
	)
	cmd := &cobra.Command{
		Use:          "dmsp-tui <predictions.tsv>",
		Short:        "Browse a predictions file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			rows, truncated, err := loadRows(f, limit)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			p := tea.NewProgram(newModel(args[0], rows, truncated, maxLen), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5000, "load at most this many rows (0 for all)")
	cmd.Flags().IntVar(&maxLen, "max-length", peptide.DefaultMaxLength, "vector width used to show encodings")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
