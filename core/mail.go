package core

import (
	"bytes"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/noteearly/noteearly/fs"
)

const templatesDir = "assets/templates/email"

// EmailService is any service that can send emails.
type EmailService interface {
	// SendMessages sends messages concurrently
	SendMessages(messages ...*EmailMessage)
}

// EmailMessage is a notification sent to one or more recipients.
// Either BodyStr or TemplateName provides the content.
type EmailMessage struct {
	To      []mail.Address
	Cc      []mail.Address
	Bcc     []mail.Address
	Subject string
	BodyStr string

	TemplateName string // file name without ext, under assets/templates/email
	TemplateData interface{}

	// filled by Render
	TextContent string
	HTMLContent string
}

// ContextData is what email templates are executed with.
type ContextData struct {
	FrontendBaseURL string
	Data            interface{}
}

// emailTemplate pairs the text and html renditions of a notification.
// Either may be nil.
type emailTemplate struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

var emailTemplates = struct {
	once   sync.Once
	byName map[string]*emailTemplate
	err    error
}{}

func loadEmailTemplates() (map[string]*emailTemplate, error) {
	emailTemplates.once.Do(func() {
		emailTemplates.byName, emailTemplates.err = parseEmailTemplates(appfs.FS)
	})
	return emailTemplates.byName, emailTemplates.err
}

// parseEmailTemplates parses every "<name>.txt" and "<name>.gohtml" file along with its "_base" layout.
func parseEmailTemplates(fsys fs.FS) (map[string]*emailTemplate, error) {
	paths, err := fs.Glob(fsys, path.Join(templatesDir, "*"))
	if err != nil {
		return nil, errors.Wrap(err, "listing email templates")
	}

	byName := make(map[string]*emailTemplate)
	get := func(name string) *emailTemplate {
		if byName[name] == nil {
			byName[name] = new(emailTemplate)
		}
		return byName[name]
	}

	for _, p := range paths {
		base := path.Base(p)
		if strings.HasPrefix(base, "_") {
			continue
		}
		ext := path.Ext(base)
		name := strings.TrimSuffix(base, ext)
		layout := path.Join(templatesDir, "_base"+ext)

		switch ext {
		case ".txt":
			t, err := texttmpl.ParseFS(fsys, layout, p)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", base)
			}
			get(name).text = t.Option("missingkey=error")
		case ".gohtml":
			t, err := htmltmpl.ParseFS(fsys, layout, p)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", base)
			}
			get(name).html = t.Option("missingkey=error")
		}
	}
	return byName, nil
}

// Render fills TextContent and HTMLContent.
// BodyStr takes precedence over the text template; an unknown template renders nothing.
func (m *EmailMessage) Render(frontendBaseURL string) error {
	m.TextContent, m.HTMLContent = m.BodyStr, ""
	if m.TemplateName == "" {
		return nil
	}

	all, err := loadEmailTemplates()
	if err != nil {
		return err
	}
	tmpl, ok := all[m.TemplateName]
	if !ok {
		return nil
	}

	data := ContextData{FrontendBaseURL: frontendBaseURL, Data: m.TemplateData}
	var buf bytes.Buffer
	if tmpl.text != nil && m.BodyStr == "" {
		if err = tmpl.text.Execute(&buf, data); err != nil {
			return errors.Wrapf(err, "rendering %s text", m.TemplateName)
		}
		m.TextContent = buf.String()
		buf.Reset()
	}
	if tmpl.html != nil {
		if err = tmpl.html.Execute(&buf, data); err != nil {
			return errors.Wrapf(err, "rendering %s html", m.TemplateName)
		}
		m.HTMLContent = buf.String()
	}
	return nil
}

// Deliverable reports whether the rendered message has recipients and content.
func (m *EmailMessage) Deliverable() bool {
	return len(m.To) > 0 && (m.TextContent != "" || m.HTMLContent != "")
}

// Recipients lists all the To, Cc and Bcc addresses.
func (m *EmailMessage) Recipients() []string {
	addrs := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]mail.Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			addrs = append(addrs, a.Address)
		}
	}
	return addrs
}
