// Package mail sends client notifications and threads completion replies
// into the conversation the start mail opened.
package mail

import (
	"encoding/base64"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

// SendResult carries the provider identifiers of a sent message. Recording
// them lets a later reply land in the same thread.
type SendResult struct {
	ThreadID     string
	MessageID    string
	RFCMessageID string
	References   string
}

// Message is one outbound mail.
type Message struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// Reply threads a message into an existing conversation.
type Reply struct {
	Message
	ThreadID   string
	InReplyTo  string
	References string
}

// Mailer is the provider surface the engine depends on. A message with no
// TO recipients is a no-op returning (nil, nil), never an error.
type Mailer interface {
	Send(m Message) (*SendResult, error)
	SendReply(r Reply) (*SendResult, error)
}

// RenderTemplate substitutes {{name}} placeholders. Unknown placeholders
// are left in place so a typo stays visible in the delivered mail.
func RenderTemplate(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

// expandNewlineTokens turns literal backslash-n sequences, as stored by
// template editors, into real newlines.
func expandNewlineTokens(s string) string {
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return s
}

var htmlTagRe = regexp.MustCompile(`(?is)<[a-z][\s\S]*>`)

// NormalizeBodyToHTML renders a template body as HTML. Bodies that already
// contain markup pass through untouched; plain text is escaped and its
// newlines become <br>.
func NormalizeBodyToHTML(body string) string {
	s := expandNewlineTokens(body)
	if htmlTagRe.MatchString(s) {
		return s
	}
	s = html.EscapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "<br>")
	return strings.ReplaceAll(s, "\n", "<br>")
}

// BuildRaw assembles an RFC 822 message and encodes it the way the Gmail
// API expects raw payloads: base64url without padding.
func BuildRaw(from string, m Message, inReplyTo, references string, now time.Time) (string, error) {
	if from == "" {
		return "", fmt.Errorf("sender address is not configured")
	}
	subject := strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(m.Subject))

	var lines []string
	lines = append(lines, "From: "+from)
	lines = append(lines, "To: "+strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		lines = append(lines, "Cc: "+strings.Join(m.Cc, ", "))
	}
	if len(m.Bcc) > 0 {
		lines = append(lines, "Bcc: "+strings.Join(m.Bcc, ", "))
	}
	lines = append(lines, "Subject: "+subject)
	lines = append(lines, "Date: "+now.UTC().Format(time.RFC1123Z))
	if inReplyTo != "" {
		lines = append(lines, "In-Reply-To: "+inReplyTo)
	}
	if references != "" {
		lines = append(lines, "References: "+references)
	}
	lines = append(lines, "MIME-Version: 1.0")
	lines = append(lines, `Content-Type: text/html; charset="UTF-8"`)
	lines = append(lines, "", NormalizeBodyToHTML(m.Body))

	msg := strings.Join(lines, "\r\n")
	return base64.RawURLEncoding.EncodeToString([]byte(msg)), nil
}

// Noop satisfies Mailer when no provider is configured. Every send reports
// an empty result so callers record nothing.
type Noop struct{}

func (Noop) Send(m Message) (*SendResult, error) {
	if len(m.To) == 0 {
		return nil, nil
	}
	return &SendResult{}, nil
}

func (Noop) SendReply(r Reply) (*SendResult, error) {
	if len(r.To) == 0 {
		return nil, nil
	}
	return &SendResult{ThreadID: r.ThreadID}, nil
}
