package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/noteearly/noteearly/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"

	sendAttempts = 3
)

// SendgridService delivers emails through the SendGrid v3 mail API.
// Messages are tagged with their template name as a SendGrid category.
type SendgridService struct {
	apiKey          string
	host            string
	from            *sgmail.Email
	subjectPrefix   string
	frontendBaseURL string
	logger          core.Logger

	// delay before the nth retry
	backoff func(n int) time.Duration
}

var _ core.EmailService = (*SendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *SendgridService {
	return &SendgridService{
		apiKey:          conf.SendgridApiKey,
		host:            sendgridHost,
		from:            sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		subjectPrefix:   subjectPrefix(conf),
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
		backoff: func(n int) time.Duration {
			return time.Duration(n) * time.Second
		},
	}
}

func (svc *SendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			if err := svc.send(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email %q: %v", msg.Subject, err), err,
					map[string]interface{}{"template": msg.TemplateName, "recipients": msg.Recipients()})
			}
		}(msg)
	}
}

func (svc *SendgridService) send(msg *core.EmailMessage) error {
	if err := msg.Render(svc.frontendBaseURL); err != nil {
		return err
	}
	if !msg.Deliverable() {
		return nil
	}

	body := sgmail.GetRequestBody(svc.buildMail(msg))
	for attempt := 1; ; attempt++ {
		req := sendgrid.GetRequest(svc.apiKey, sendgridEndpoint, svc.host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgrid.API(req)
		switch {
		case err != nil:
			return err
		case res.StatusCode < http.StatusBadRequest:
			return nil
		case !retryable(res.StatusCode) || attempt == sendAttempts:
			return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
		}
		svc.logger.Warn(fmt.Sprintf("sendgrid responded %d, retrying (%d/%d)", res.StatusCode, attempt, sendAttempts))
		time.Sleep(svc.backoff(attempt))
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (svc *SendgridService) buildMail(msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjectPrefix + msg.Subject
	p.AddTos(sgEmails(msg.To)...)
	p.AddCCs(sgEmails(msg.Cc)...)
	p.AddBCCs(sgEmails(msg.Bcc)...)

	m := sgmail.NewV3Mail().SetFrom(svc.from).AddPersonalizations(p)
	if msg.TextContent != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
	}
	return m
}

func sgEmails(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, len(addrs))
	for i, a := range addrs {
		emails[i] = sgmail.NewEmail(a.Name, a.Address)
	}
	return emails
}
