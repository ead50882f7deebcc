package newsletter

import (
	"fmt"
	"html"
	"strings"

	"newsletterapp/internal/model"

	"github.com/microcosm-cc/bluemonday"
)

// RenderConfig параметры рендера писем
type RenderConfig struct {
	SiteURL     string // Публичный адрес сайта для ссылок трекинга и отписки
	FromAddress string // Адрес отправителя
}

// Links ссылки трекинга и отписки для одной пары (рассылка, подписчик)
type Links struct {
	Open        string
	Click       string
	Unsubscribe string
}

// Rendered готовое письмо
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer подставляет данные рассылки и подписчика в шаблон письма
type Renderer struct {
	cfg   RenderConfig
	strip *bluemonday.Policy
}

func NewRenderer(cfg RenderConfig) *Renderer {
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Renderer{
		cfg:   cfg,
		strip: bluemonday.StripTagsPolicy(),
	}
}

// Links ссылки для письма. Отписка привязана к подписчику, а не к токену,
// чтобы работать и без записи об отправке
func (r *Renderer) Links(subscriberID uint, token string) Links {
	return Links{
		Open:        fmt.Sprintf("%s/newsletters/track/open/%s/", r.cfg.SiteURL, token),
		Click:       fmt.Sprintf("%s/newsletters/track/click/%s/", r.cfg.SiteURL, token),
		Unsubscribe: fmt.Sprintf("%s/newsletters/unsubscribe/%d/", r.cfg.SiteURL, subscriberID),
	}
}

// Render собирает письмо. Без шаблона HTML - содержимое рассылки как есть.
// С шаблоном подставляются известные плейсхолдеры, остальные остаются без изменений
func (r *Renderer) Render(tpl *model.NewsletterTemplate, n *model.Newsletter, s *model.Subscriber, links Links) Rendered {
	out := Rendered{Subject: n.Subject}

	if tpl == nil {
		out.HTML = n.Content
		out.Text = r.PlainText(n.Content)
		return out
	}

	replacer := strings.NewReplacer(
		"{{ title }}", n.Title,
		"{{ content }}", n.Content,
		"{{ subject }}", n.Subject,
		"{{ unsubscribe_url }}", links.Unsubscribe,
		"{{ open_tracking_url }}", links.Open,
		"{{ click_tracking_url }}", links.Click,
		"{{ subscriber.email }}", s.Email,
		"{{ subscriber.first_name }}", s.FirstName,
		"{{ subscriber.last_name }}", s.LastName,
		"{{ subscriber.full_name }}", s.FullName(),
	)

	out.HTML = replacer.Replace(tpl.HTMLTemplate)
	if tpl.TextTemplate != "" {
		out.Text = replacer.Replace(tpl.TextTemplate)
	} else {
		out.Text = r.PlainText(out.HTML)
	}
	return out
}

// PlainText текст без HTML разметки
func (r *Renderer) PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.strip.Sanitize(s)))
}

// Message письмо для отправки подписчику
func (r *Renderer) Message(rendered Rendered, n *model.Newsletter, s *model.Subscriber, token string) Message {
	return Message{
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
		From:    r.cfg.FromAddress,
		To:      s.Email,
		Headers: map[string]string{
			HeaderNewsletterID: fmt.Sprint(n.ID),
			HeaderSubscriberID: fmt.Sprint(s.ID),
			HeaderTrackingID:   token,
		},
	}
}
