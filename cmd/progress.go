package main

import (
	"fmt"
	"io"
	"strings"

	"dmsp/internal/pipeline"
	"dmsp/internal/stats"

	"github.com/charmbracelet/lipgloss"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar shows processed chunks. Log lines written to it are printed
// above the bar.
type progressBar struct {
	pbs *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{pbs: mpb.New(mpb.WithWidth(40), mpb.WithOutput(w))}
}

func (p *progressBar) Write(b []byte) (int, error) { return p.pbs.Write(b) }

func (p *progressBar) start(chunks int) {
	p.bar = p.pbs.AddBar(int64(chunks),
		mpb.PrependDecorators(
			decor.Name("processed chunks: ", decor.WC{W: len("processed chunks: "), C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
			decor.AverageETA(decor.ET_STYLE_GO),
			decor.OnComplete(decor.Name(""), ". done"),
		),
	)
}

func (p *progressBar) increment() {
	if p.bar != nil {
		p.bar.Increment()
	}
}

// finish completes or aborts the bar and waits for the last render.
func (p *progressBar) finish(ok bool) {
	switch {
	case p.bar == nil:
	case ok:
		// completes an empty input's zero-length bar too
		p.bar.SetTotal(-1, true)
	default:
		p.bar.Abort(false)
	}
	p.pbs.Wait()
}

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// summary renders the end-of-run totals.
func summary(output string, res pipeline.Result) string {
	t := res.Totals
	row := func(k string, n int) string {
		return keyStyle.Render(fmt.Sprintf("%-14s", k)) + fmt.Sprintf("%d (%.2f%%)", n, pct(n, t))
	}
	lines := []string{
		titleStyle.Render("dmsp run complete"),
		keyStyle.Render(fmt.Sprintf("%-14s", "output")) + output,
		keyStyle.Render(fmt.Sprintf("%-14s", "peptides")) + fmt.Sprintf("%d in %d chunks", res.Lines, res.Chunks),
		row("processed", t.Processed),
		row("too long", t.TooLong),
		row("invalid", t.Invalid),
		keyStyle.Render(fmt.Sprintf("%-14s", "written rows")) + fmt.Sprintf("%d", res.Rows),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func pct(n int, t stats.Counts) float64 {
	if t.Attempted() == 0 {
		return 0
	}
	return float64(n) / float64(t.Attempted()) * 100
}
