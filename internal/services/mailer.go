package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Mailer sends security alerts to account owners.
type Mailer interface {
	SendLockoutAlert(ctx context.Context, to, username string, until time.Time) error
	SendNewDeviceAlert(ctx context.Context, to, username string, device DeviceAlert) error
}

// DeviceAlert describes the device a new session came from.
type DeviceAlert struct {
	DeviceType string
	OS         string
	Client     string
	IP         string
	Country    string
	City       string
	Time       time.Time
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends alerts using AWS SES
type SESMailer struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESMailer{client: ses.NewFromConfig(cfg), fromAddress: fromAddress, logger: logger}, nil
}

func (m *SESMailer) SendLockoutAlert(ctx context.Context, to, username string, until time.Time) error {
	when := until.UTC().Format(time.RFC1123)
	text := fmt.Sprintf(`Hello %s,

Your account was locked after several failed sign-in attempts. You can try again after %s.

If this was not you, change your password as soon as you regain access.
`, username, when)
	body := fmt.Sprintf(`<p>Hello %s,</p>
<p>Your account was locked after several failed sign-in attempts. You can try again after <strong>%s</strong>.</p>
<p>If this was not you, change your password as soon as you regain access.</p>`,
		html.EscapeString(username), html.EscapeString(when))

	return m.send(ctx, to, "Your account has been temporarily locked", body, text)
}

func (m *SESMailer) SendNewDeviceAlert(ctx context.Context, to, username string, device DeviceAlert) error {
	where := fmt.Sprintf("%s %s on %s from %s (%s, %s)", device.DeviceType, device.Client, device.OS, device.IP, device.City, device.Country)
	when := device.Time.UTC().Format(time.RFC1123)
	text := fmt.Sprintf(`Hello %s,

A new device signed in to your account: %s at %s.

If this was not you, sign out of all devices and change your password.
`, username, where, when)
	body := fmt.Sprintf(`<p>Hello %s,</p>
<p>A new device signed in to your account:</p>
<p><strong>%s</strong><br>%s</p>
<p>If this was not you, sign out of all devices and change your password.</p>`,
		html.EscapeString(username), html.EscapeString(where), html.EscapeString(when))

	return m.send(ctx, to, "New sign-in to your account", body, text)
}

func (m *SESMailer) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			pkglogger.EmailAttr(to),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("alert email sent",
		pkglogger.EmailAttr(to),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogMailer only logs alerts. It is used when email delivery is disabled.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendLockoutAlert(ctx context.Context, to, username string, until time.Time) error {
	m.logger.Info("lockout alert",
		pkglogger.EmailAttr(to),
		slog.Time("locked_until", until))
	return nil
}

func (m *LogMailer) SendNewDeviceAlert(ctx context.Context, to, username string, device DeviceAlert) error {
	m.logger.Info("new device alert",
		pkglogger.EmailAttr(to),
		slog.String("device_type", device.DeviceType),
		slog.String("os", device.OS),
		slog.String("country", device.Country))
	return nil
}
