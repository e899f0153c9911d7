// Package notify delivers one-time codes and password notices by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"credential-sync/internal/config"
	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

// Dispatcher sends a templated message to one destination.
type Dispatcher interface {
	Send(ctx context.Context, destination string, kind model.TemplateKind, payload map[string]any) error
}

// sender is satisfied by *gomail.Dialer.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type message struct {
	subject string
	body    *template.Template
}

var templates = map[model.TemplateKind]message{
	model.TemplateOTP: {
		subject: "Your verification code",
		body: template.Must(template.New("otp").Parse(
			`<p>Your verification code is <strong>{{.Code}}</strong>.</p>` +
				`<p>It expires in {{.ExpiresIn}}.</p>`)),
	},
	model.TemplateResetLink: {
		subject: "Reset your password",
		body: template.Must(template.New("reset").Parse(
			`<p>We received a request to reset your password.</p>` +
				`<p><a href="{{.Link}}">Choose a new password</a></p>` +
				`<p>If you did not ask for this, you can ignore this email.</p>`)),
	},
	model.TemplatePasswordChanged: {
		subject: "Your password was changed",
		body: template.Must(template.New("changed").Parse(
			`<p>The password for {{.Email}} was just changed.</p>` +
				`<p>If this was not you, reset your password immediately.</p>`)),
	},
}

type Mailer struct {
	from   string
	sender sender
	logger *zap.Logger
}

func NewMailer(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{
		from:   cfg.From,
		sender: dialer,
		logger: logger,
	}
}

// Send renders kind with payload and delivers it. Any failure is reported as
// model.ErrDelivery.
func (m *Mailer) Send(ctx context.Context, destination string, kind model.TemplateKind, payload map[string]any) error {
	tmpl, ok := templates[kind]
	if !ok {
		return fmt.Errorf("%w: unknown template %q", model.ErrDelivery, kind)
	}
	if destination == "" {
		return fmt.Errorf("%w: no recipient", model.ErrDelivery)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDelivery, err)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, payload); err != nil {
		return fmt.Errorf("%w: render %s: %v", model.ErrDelivery, kind, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", destination)
	msg.SetHeader("Subject", tmpl.subject)
	msg.SetBody("text/html", body.String())

	if err := m.sender.DialAndSend(msg); err != nil {
		m.logger.Error("Failed to deliver notification",
			util.Email(destination), zap.String("template", string(kind)), zap.Error(err))
		return fmt.Errorf("%w: %v", model.ErrDelivery, err)
	}

	m.logger.Info("Notification delivered",
		util.Email(destination), zap.String("template", string(kind)))
	return nil
}
