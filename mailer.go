package authcore

import (
	"context"
	"log/slog"
)

// SlogMailer logs outbound mail instead of delivering it. It is meant for
// development; the log line carries the code or link.
type SlogMailer struct {
	logger *slog.Logger
}

// NewSlogMailer returns a mailer that logs to logger.
func NewSlogMailer(logger *slog.Logger) *SlogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogMailer{logger: logger}
}

func (m *SlogMailer) Send(ctx context.Context, mail Mail) error {
	attrs := []any{"kind", string(mail.Kind), "to", mail.To}
	if mail.Language != "" {
		attrs = append(attrs, "language", mail.Language)
	}
	if mail.Code != "" {
		attrs = append(attrs, "code", mail.Code)
	}
	if mail.Link != "" {
		attrs = append(attrs, "link", mail.Link)
	}
	m.logger.InfoContext(ctx, "mail", attrs...)
	return nil
}
