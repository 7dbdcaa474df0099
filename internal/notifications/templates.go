package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template describes a message template. Subject and body are the named
// blocks "<code>.subject" and "<code>.body" in templates/*.tmpl.
type Template struct {
	Code      string   `json:"template_code"`
	Name      string   `json:"template_name"`
	Channel   string   `json:"channel"`
	Variables []string `json:"variables"`
}

var catalog = []Template{
	{"welcome_email", "Добро пожаловать", ChannelEmail, []string{"first_name"}},
	{"new_message", "Новое сообщение", ChannelPush, []string{"sender_name"}},
	{"listing_expired", "Объявление истекло", ChannelPush, []string{"listing_title"}},
	{"listing_approved", "Объявление опубликовано", ChannelPush, []string{"listing_title"}},
	{"listing_rejected", "Объявление отклонено", ChannelPush, []string{"listing_title", "reason"}},
	{"payment_received", "Оплата получена", ChannelEmail, []string{"amount", "currency"}},
	{"support_reply", "Ответ службы поддержки", ChannelEmail, []string{"ticket_number"}},
	{"new_support_ticket", "Новый тикет поддержки", ChannelEmail, []string{"ticket_number", "subject"}},
}

// Rendered is the output of a template.
type Rendered struct {
	Code    string `json:"template_code"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Templates renders the built-in templates.
type Templates struct {
	set    *template.Template
	byCode map[string]Template
}

func NewTemplates() (*Templates, error) {
	set, err := template.New("notifications").Option("missingkey=zero").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	t := &Templates{set: set, byCode: make(map[string]Template, len(catalog))}
	for _, tpl := range catalog {
		for _, part := range []string{".subject", ".body"} {
			if set.Lookup(tpl.Code+part) == nil {
				return nil, fmt.Errorf("template %s%s missing", tpl.Code, part)
			}
		}
		t.byCode[tpl.Code] = tpl
	}
	return t, nil
}

func (t *Templates) List() []Template {
	return append([]Template(nil), catalog...)
}

func (t *Templates) exec(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Render fills template code with data. Missing variables render empty.
func (t *Templates) Render(code string, data map[string]string) (*Rendered, error) {
	tpl, ok := t.byCode[code]
	if !ok {
		return nil, apperr.NotFound("template %q not found", code)
	}
	if data == nil {
		data = map[string]string{}
	}
	subject, err := t.exec(code+".subject", data)
	if err != nil {
		return nil, apperr.Internal("render template", err)
	}
	body, err := t.exec(code+".body", data)
	if err != nil {
		return nil, apperr.Internal("render template", err)
	}
	return &Rendered{Code: code, Channel: tpl.Channel, Subject: subject, Body: body}, nil
}
