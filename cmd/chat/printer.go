package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/capitalize-ai/threadchat/internal/chat"
	"github.com/capitalize-ai/threadchat/internal/model"
)

// printer writes the assistant reply incrementally as snapshots arrive.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	msgID   string
	printed int
	status  model.ExchangeStatus
	title   string
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, status: model.StatusIdle}
}

// history prints a stored transcript in the same layout as live input and
// replies.
func (p *printer) history(msgs []model.ThreadMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			fmt.Fprintf(p.out, "> %s\n", m.Text)
		case model.RoleAssistant:
			fmt.Fprintln(p.out, m.Text)
		}
	}
}

func (p *printer) update(s chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := s.Last(); ok && last.Role == model.RoleAssistant {
		if last.ID != p.msgID {
			p.msgID = last.ID
			p.printed = 0
		}
		if len(last.Text) > p.printed {
			fmt.Fprint(p.out, last.Text[p.printed:])
			p.printed = len(last.Text)
		}
	}

	if s.Status != p.status {
		p.status = s.Status
		switch s.Status {
		case model.StatusComplete:
			fmt.Fprintln(p.out)
		case model.StatusFailed:
			fmt.Fprintf(p.out, "\n[failed: %v]\n", s.Err)
		case model.StatusCancelled:
			fmt.Fprintln(p.out, "\n[cancelled]")
		}
	}

	if s.Thread.Title != "" && s.Thread.Title != p.title {
		p.title = s.Thread.Title
		fmt.Fprintf(p.out, "[thread: %s]\n", p.title)
	}
}

// lockedWriter serializes writes from the prompt loop and the printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
