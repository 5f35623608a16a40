package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"media-catalog/internal/backend"
	"media-catalog/internal/logging"
)

// terminalPolicy asks the user on the terminal what to do about queries
// that cannot proceed. Without a terminal every query is aborted.
type terminalPolicy struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newTerminalPolicy(stdin *os.File, out io.Writer) *terminalPolicy {
	return &terminalPolicy{
		in:          bufio.NewReader(stdin),
		out:         out,
		interactive: term.IsTerminal(int(stdin.Fd())),
	}
}

func (p *terminalPolicy) ConnectionError(answer *backend.Answer, err error, _ string) {
	logging.Error("Lost connection to the catalog database: %v", err)
	reply(answer, p.retryConnection(err))
}

func (p *terminalPolicy) ConsultUserForError(answer *backend.Answer, err error, query string) {
	logging.Error("Catalog query failed: %v (%s)", err, query)
	reply(answer, p.retryQuery(err, query))
}

func reply(answer *backend.Answer, retry bool) {
	if retry {
		answer.ContinueQueries()
		return
	}
	answer.AbortQueries()
}

func (p *terminalPolicy) retryConnection(err error) bool {
	if !p.interactive {
		return false
	}
	fmt.Fprintf(p.out, "\nThe connection to the catalog database was lost:\n  %v\n", err)
	return p.confirm("Try to reconnect?", true)
}

func (p *terminalPolicy) retryQuery(err error, query string) bool {
	if !p.interactive {
		return false
	}
	fmt.Fprintf(p.out, "\nA catalog query failed:\n  %v\n  query: %s\n", err, query)
	return p.confirm("Retry the query?", false)
}

// confirm prompts for yes or no. An empty line picks def; end of input
// declines.
func (p *terminalPolicy) confirm(question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(p.out, "%s %s ", question, hint)

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}
