package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chip-settlement/internal/config"
	"chip-settlement/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailPager sends critical alerts through SendGrid.
type EmailPager struct {
	client     *sendgrid.Client
	from       *mail.Email
	recipients []string
}

func NewEmailPager(cfg config.MonitorConfig) (*EmailPager, error) {
	if strings.TrimSpace(cfg.PagerSendGridKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if len(cfg.PagerRecipients) == 0 {
		return nil, errors.New("pager recipients are required")
	}
	return &EmailPager{
		client:     sendgrid.NewSendClient(cfg.PagerSendGridKey),
		from:       mail.NewEmail(cfg.PagerFromName, cfg.PagerFromEmail),
		recipients: cfg.PagerRecipients,
	}, nil
}

func (p *EmailPager) Page(ctx context.Context, a store.Alert) error {
	message := mail.NewV3Mail()
	message.SetFrom(p.from)
	message.Subject = alertSubject(a)
	personalization := mail.NewPersonalization()
	for _, to := range p.recipients {
		personalization.AddTos(mail.NewEmail("", strings.TrimSpace(to)))
	}
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/plain", alertBody(a)))

	resp, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send page: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pager returned status %d: %s", resp.StatusCode, resp.Body)
	}
	log.Info().Str("alert_id", a.ID).Int("status_code", resp.StatusCode).Msg("critical alert paged")
	return nil
}

func alertSubject(a store.Alert) string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(a.Severity), a.Type, a.SubjectAddress)
}

func alertBody(a store.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert %s\n", a.ID)
	fmt.Fprintf(&b, "Type: %s\nSeverity: %s\nSubject: %s\nRaised: %s\n", a.Type, a.Severity, a.SubjectAddress, a.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if len(a.Payload) > 0 {
		payload, err := json.MarshalIndent(a.Payload, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\n%s\n", payload)
		}
	}
	return b.String()
}
