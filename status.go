package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"
)

const (
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiReset = "\033[0m"
)

// Status handles formatted terminal output for the server lifecycle.
type Status struct {
	w     io.Writer
	color bool
	tty   bool
}

func newStatus(w io.Writer) *Status {
	color := true
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	if os.Getenv("NO_COLOR") != "" || !tty {
		color = false
	}
	return &Status{w: w, color: color, tty: tty}
}

func (s *Status) dim(text string) string {
	if s.color {
		return ansiDim + text + ansiReset
	}
	return text
}

func (s *Status) green(text string) string {
	if s.color {
		return ansiGreen + text + ansiReset
	}
	return text
}

func (s *Status) arrow() string {
	return s.dim("→")
}

// Listening prints the server URL and project label on startup.
func (s *Status) Listening(project, url string) {
	fmt.Fprintf(s.w, "  %s\n", s.green(project))
	fmt.Fprintf(s.w, "  %s\n", s.dim("Listening on "+url))
}

// JoinQR renders a QR code of the join URL so peers on the same network
// can connect from a phone or second machine. Skipped when stdout is not
// a terminal.
func (s *Status) JoinQR(url string) {
	if !s.tty {
		return
	}
	fmt.Fprintf(s.w, "\n  %s\n\n", s.dim("Scan to join:"))
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    s.w,
		QuietZone: 1,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
	})
}

// TreeLoaded prints the boot scan summary.
func (s *Status) TreeLoaded(files int) {
	noun := "files"
	if files == 1 {
		noun = "file"
	}
	fmt.Fprintf(s.w, "%s %s\n", s.arrow(), s.dim(fmt.Sprintf("Project tree loaded (%d %s)", files, noun)))
}

// ShuttingDown prints the shutdown notice.
func (s *Status) ShuttingDown() {
	fmt.Fprintf(s.w, "%s %s\n", s.arrow(), s.dim("Shutting down, letting the current cycle finish"))
}
