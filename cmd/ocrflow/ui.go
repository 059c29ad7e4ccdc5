package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// progressObserver renders session events on the terminal. It is called on
// the session worker only.
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func newProgressObserver(total int) *progressObserver {
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(models.StatusQueued),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &progressObserver{bar: bar}
}

func (p *progressObserver) OnStatus(e models.StatusEvent) {
	p.bar.Describe(fmt.Sprintf("%s  %s", e.File.Name, e.Label))
}

func (p *progressObserver) OnFileResult(e models.FileResultEvent) {
	_ = p.bar.Clear()
	switch e.Outcome {
	case models.OutcomeSuccess:
		color.New(color.FgGreen).Fprintf(os.Stderr, "✓ %s  %s\n", e.File.Name, e.JSONStatus)
	case models.OutcomeInterrupted:
		color.New(color.FgYellow).Fprintf(os.Stderr, "⚠ %s  %s\n", e.File.Name, models.StatusInterrupted)
	default:
		msg := models.StatusError
		if e.Err != nil {
			msg = fmt.Sprintf("%s [%s] %s", msg, e.Err.Code, e.Err.Message)
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s  %s\n", e.File.Name, msg)
	}
	_ = p.bar.Add(1)
}

func (p *progressObserver) OnSessionEnd(s models.SessionSummary) {
	_ = p.bar.Finish()
}

func printSummary(s models.SessionSummary) {
	c := color.New(color.FgCyan, color.Bold)
	switch s.State {
	case models.SessionCancelled:
		c = color.New(color.FgYellow, color.Bold)
	case models.SessionFatalError:
		c = color.New(color.FgRed, color.Bold)
	}
	c.Printf("Session %s %s\n", s.SessionID, s.State)
	fmt.Printf("  succeeded:   %d\n", s.Succeeded)
	fmt.Printf("  failed:      %d\n", s.Failed)
	fmt.Printf("  interrupted: %d\n", s.Interrupted)
	if s.Skipped > 0 {
		fmt.Printf("  skipped:     %d\n", s.Skipped)
	}
	fmt.Printf("  duration:    %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	if s.Err != nil {
		color.New(color.FgRed).Printf("  error:       %s\n", s.Err.Error())
	}
}

func newSpinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return s
}
