package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	mail "github.com/wneessen/go-mail"
)

// Message is one outbound email.
type Message struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// MailClient sends one email.
type MailClient interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig describes the relay. An empty Host disables sending.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is opportunistic (default), mandatory or none.
	TLS         string
	SendTimeout time.Duration
}

// SMTPClient sends mail through an SMTP relay guarded by a circuit breaker.
// While the breaker is open sends fail fast as transient errors.
type SMTPClient struct {
	cfg     SMTPConfig
	breaker *gobreaker.CircuitBreaker
	send    func(ctx context.Context, m *mail.Msg) error
}

// NewSMTPClient builds a client; onState, when non-nil, observes breaker
// transitions.
func NewSMTPClient(cfg SMTPConfig, onState func(from, to string)) *SMTPClient {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	c := &SMTPClient{cfg: cfg}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onState != nil {
				onState(from.String(), to.String())
			}
		},
	})
	c.send = c.dialAndSend
	return c
}

// Configured reports whether a relay host is set.
func (c *SMTPClient) Configured() bool { return c.cfg.Host != "" }

func (c *SMTPClient) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	m, err := c.buildMsg(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	_, err = executeWithBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.send(ctx, m)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return transient("mail", 0, err)
	case IsTransient(err), IsPermanent(err):
		return err
	default:
		return transient("mail", 0, err)
	}
}

func (c *SMTPClient) buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	from := msg.From
	if from == "" {
		from = c.cfg.From
	}
	if from == "" {
		from = c.cfg.Username
	}
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", ErrInvalidTarget, from, err)
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("%w: empty recipient", ErrInvalidTarget)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: recipient %q: %v", ErrInvalidTarget, msg.To, err)
	}
	m.Subject(msg.Subject)
	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}

func (c *SMTPClient) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(c.cfg.Port),
		mail.WithTimeout(c.cfg.SendTimeout),
		mail.WithTLSPolicy(tlsPolicy(c.cfg.TLS)),
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}
	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return transient("mail", 0, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return transient("mail", 0, err)
	}
	return nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch strings.ToLower(s) {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
