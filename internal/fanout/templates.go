package fanout

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/rzbill/herald/internal/delivery"
)

const (
	createdSubject = `New booking {{.BookingID}}`
	createdText    = `A new booking was created.

Booking: {{.BookingID}}
{{- if .OwnerIdentity}}
Client:  {{.OwnerIdentity}}{{end}}
{{- if .Summary}}
Details: {{.Summary}}{{end}}
`
	createdHTML = `<p>A new booking was created.</p>
<ul>
<li>Booking: {{.BookingID}}</li>
{{- if .OwnerIdentity}}
<li>Client: {{.OwnerIdentity}}</li>{{end}}
{{- if .Summary}}
<li>Details: {{.Summary}}</li>{{end}}
</ul>
`

	confirmedSubject = `Your booking {{.BookingID}} is confirmed`
	confirmedText    = `Good news, your booking has been confirmed.

Booking: {{.BookingID}}
{{- if .Summary}}
Details: {{.Summary}}{{end}}
`
	confirmedHTML = `<p>Good news, your booking has been confirmed.</p>
<ul>
<li>Booking: {{.BookingID}}</li>
{{- if .Summary}}
<li>Details: {{.Summary}}</li>{{end}}
</ul>
`
)

type kindTemplates struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

// Templates renders email and push content for each event kind.
type Templates struct {
	kinds map[Kind]kindTemplates
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	t, err := NewTemplates(map[Kind][3]string{
		KindCreated:   {createdSubject, createdText, createdHTML},
		KindConfirmed: {confirmedSubject, confirmedText, confirmedHTML},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTemplates parses subject, text and HTML sources per kind. The HTML
// source is escaped contextually.
func NewTemplates(src map[Kind][3]string) (*Templates, error) {
	t := &Templates{kinds: make(map[Kind]kindTemplates, len(src))}
	for k, s := range src {
		subj, err := template.New(string(k) + ".subject").Parse(s[0])
		if err != nil {
			return nil, fmt.Errorf("fanout: parse %s subject: %w", k, err)
		}
		text, err := template.New(string(k) + ".text").Parse(s[1])
		if err != nil {
			return nil, fmt.Errorf("fanout: parse %s text: %w", k, err)
		}
		html, err := htmltemplate.New(string(k) + ".html").Parse(s[2])
		if err != nil {
			return nil, fmt.Errorf("fanout: parse %s html: %w", k, err)
		}
		t.kinds[k] = kindTemplates{subject: subj, text: text, html: html}
	}
	return t, nil
}

// Mail renders the message for ev addressed to to.
func (t *Templates) Mail(ev Event, to string) (delivery.Message, error) {
	kt, ok := t.kinds[ev.Kind]
	if !ok {
		return delivery.Message{}, fmt.Errorf("%w %q", ErrUnknownKind, ev.Kind)
	}
	var subj, text, html bytes.Buffer
	if err := kt.subject.Execute(&subj, ev); err != nil {
		return delivery.Message{}, err
	}
	if err := kt.text.Execute(&text, ev); err != nil {
		return delivery.Message{}, err
	}
	if err := kt.html.Execute(&html, ev); err != nil {
		return delivery.Message{}, err
	}
	return delivery.Message{
		To:      to,
		Subject: strings.TrimSpace(subj.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// Push builds the notification for ev. Data carries Body().
func (t *Templates) Push(ev Event) delivery.Notification {
	n := delivery.Notification{
		Tag:  "booking-" + ev.BookingID,
		URL:  "/bookings/" + ev.BookingID,
		Data: ev.Body(),
	}
	switch ev.Kind {
	case KindCreated:
		n.Title = "New booking"
		n.Body = firstNonEmpty(ev.Summary, "Booking "+ev.BookingID+" is waiting for confirmation")
		req := true
		n.RequireInteraction = &req
	case KindConfirmed:
		n.Title = "Booking confirmed"
		n.Body = firstNonEmpty(ev.Summary, "Your booking "+ev.BookingID+" has been confirmed")
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
