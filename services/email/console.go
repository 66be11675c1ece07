package emailsvc

import (
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"sync"

	"github.com/noteearly/noteearly/core"
)

// ConsoleService writes emails to stdout instead of delivering them.
// Every message it outputs is kept and can be inspected with SentMessages.
type ConsoleService struct {
	from            mail.Address
	subjectPrefix   string
	frontendBaseURL string
	out             io.Writer
	logger          core.Logger
	wait            bool // send in the caller's goroutine

	mu   sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailService = (*ConsoleService)(nil)

func NewConsoleService(conf *core.Config, logger core.Logger) *ConsoleService {
	return &ConsoleService{
		from:            conf.DefaultFromEmail,
		subjectPrefix:   subjectPrefix(conf),
		frontendBaseURL: conf.FrontendBaseURL,
		out:             os.Stdout,
		logger:          logger,
	}
}

// NewConsoleServiceMock returns a ConsoleService that discards its output and sends synchronously.
func NewConsoleServiceMock(conf *core.Config, logger core.Logger) *ConsoleService {
	svc := NewConsoleService(conf, logger)
	svc.out = io.Discard
	svc.wait = true
	return svc
}

func subjectPrefix(conf *core.Config) string {
	return "[" + conf.AppName + "] "
}

func (svc *ConsoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.wait {
			svc.deliver(msg)
			continue
		}
		go svc.deliver(msg)
	}
}

// SentMessages returns a copy of the messages output so far.
func (svc *ConsoleService) SentMessages() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}

func (svc *ConsoleService) deliver(msg *core.EmailMessage) {
	if err := msg.Render(svc.frontendBaseURL); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering email %q: %v", msg.Subject, err), err)
		return
	}
	if !msg.Deliverable() {
		return
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sent = append(svc.sent, *msg)
	_, _ = io.WriteString(svc.out, svc.format(*msg))
}

func (svc *ConsoleService) format(msg core.EmailMessage) string {
	var b strings.Builder
	b.WriteString("----- email -----\n")
	fmt.Fprintf(&b, "From: %s\n", svc.from.String())
	for _, h := range []struct {
		name  string
		addrs []mail.Address
	}{{"To", msg.To}, {"Cc", msg.Cc}, {"Bcc", msg.Bcc}} {
		if len(h.addrs) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", h.name, joinAddresses(h.addrs))
		}
	}
	fmt.Fprintf(&b, "Subject: %s%s\n\n", svc.subjectPrefix, msg.Subject)
	b.WriteString(msg.TextContent)
	if msg.HTMLContent != "" {
		fmt.Fprintf(&b, "\n\n[html: %d bytes]", len(msg.HTMLContent))
	}
	b.WriteString("\n-----------------\n")
	return b.String()
}

func joinAddresses(addrs []mail.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
