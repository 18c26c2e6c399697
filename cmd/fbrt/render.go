package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/and161185/fbrt/internal/config"
	"github.com/and161185/fbrt/internal/model"
)

// renderer writes one event per call.
type renderer interface {
	Render(ev model.Event) error
}

func newRenderer(format string, w io.Writer) (renderer, error) {
	switch format {
	case config.FormatJSON:
		return &jsonRenderer{enc: json.NewEncoder(w)}, nil
	case config.FormatYAML:
		return &yamlRenderer{w: w}, nil
	case config.FormatText:
		return &textRenderer{w: w, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, text)", format)
	}
}

// jsonRenderer prints JSON lines.
type jsonRenderer struct{ enc *json.Encoder }

func (r *jsonRenderer) Render(ev model.Event) error { return r.enc.Encode(ev) }

// yamlRenderer prints a YAML document per event.
type yamlRenderer struct{ w io.Writer }

func (r *yamlRenderer) Render(ev model.Event) error {
	if _, err := io.WriteString(r.w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	return enc.Close()
}

var (
	typeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Width(14)

	threadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// textRenderer prints one styled line per event.
type textRenderer struct {
	w   io.Writer
	now func() time.Time
}

func (r *textRenderer) Render(ev model.Event) error {
	var b strings.Builder
	b.WriteString(timestampStyle.Render(r.now().Format(time.TimeOnly)))
	b.WriteByte(' ')
	b.WriteString(typeStyle.Render(string(ev.Type())))
	if t := ev.Thread(); t != "" {
		b.WriteString(threadStyle.Render("[" + t + "] "))
	}
	b.WriteString(describe(ev))
	b.WriteByte('\n')
	_, err := io.WriteString(r.w, b.String())
	return err
}

func describe(ev model.Event) string {
	switch e := ev.(type) {
	case *model.MessageEvent:
		return senderStyle.Render(e.SenderID) + ": " + e.Body + attachments(len(e.Attachments))
	case *model.MessageReplyEvent:
		quoted := ""
		if e.MessageReply != nil {
			quoted = fmt.Sprintf(" (reply to %s: %q)", e.MessageReply.SenderID, e.MessageReply.Body)
		}
		return senderStyle.Render(e.SenderID) + ": " + e.Body + attachments(len(e.Attachments)) + quoted
	case *model.TypingEvent:
		if e.IsTyping {
			return senderStyle.Render(e.From) + " is typing"
		}
		return senderStyle.Render(e.From) + " stopped typing"
	case *model.ReadReceiptEvent:
		return senderStyle.Render(e.Reader) + " read the thread"
	case *model.ReadEvent:
		return "thread read on another device"
	case *model.PresenceEvent:
		state := "offline"
		if e.Statuses != 0 {
			state = "online"
		}
		return senderStyle.Render(e.UserID) + " is " + state
	case *model.ThreadEvent:
		return senderStyle.Render(e.Author) + " " + e.LogMessageType + ": " + e.LogMessageBody
	case *model.ErrorEvent:
		if e.Fatal {
			return errorStyle.Render("fatal: " + e.Error)
		}
		return errorStyle.Render(e.Error)
	default:
		return ""
	}
}

func attachments(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return " [1 attachment]"
	default:
		return fmt.Sprintf(" [%d attachments]", n)
	}
}
