package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"

	appconfig "github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

// SESClient is the part of the SES API used for alert mail
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AlertService mails operators a digest of alerting security events.
// Digests are throttled; batches over the limit are dropped and counted.
type AlertService struct {
	client        SESClient
	sender        string
	recipients    []string
	subjectPrefix string
	limiter       *rate.Limiter
	logger        *slog.Logger

	suppressed atomic.Int64
}

// NewAWSSESAlertService creates an AlertService backed by AWS SES
func NewAWSSESAlertService(ctx context.Context, cfg appconfig.AlertConfig, logger *slog.Logger) (*AlertService, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAlertService(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewAlertService creates an AlertService around any SES client
func NewAlertService(client SESClient, cfg appconfig.AlertConfig, logger *slog.Logger) *AlertService {
	perMinute := cfg.MaxPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}

	return &AlertService{
		client:        client,
		sender:        cfg.Sender,
		recipients:    cfg.Recipients,
		subjectPrefix: cfg.SubjectPrefix,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:        logger,
	}
}

func (s *AlertService) Name() string { return "alerts" }

// Write sends one digest covering the alerting events in the batch
func (s *AlertService) Write(ctx context.Context, events []models.SecurityEvent) error {
	alerts := make([]models.SecurityEvent, 0)
	for _, ev := range events {
		if models.IsAlertingEvent(ev.Type) {
			alerts = append(alerts, ev)
		}
	}
	if len(alerts) == 0 {
		return nil
	}

	if !s.limiter.Allow() {
		total := s.suppressed.Add(int64(len(alerts)))
		s.logger.Warn("security alert suppressed by throttle",
			slog.Int("alerts", len(alerts)),
			slog.Int64("suppressed_total", total),
		)
		return nil
	}

	subject, textBody, htmlBody := s.render(alerts)

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.Int("alerts", len(alerts)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.logger.Info("security alert sent",
		slog.Int("alerts", len(alerts)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// Suppressed returns how many alerts the throttle has dropped
func (s *AlertService) Suppressed() int64 {
	return s.suppressed.Load()
}

func (s *AlertService) render(alerts []models.SecurityEvent) (subject, text, htmlBody string) {
	typeSet := make(map[string]struct{})
	for _, ev := range alerts {
		typeSet[ev.Type] = struct{}{}
	}
	eventTypes := make([]string, 0, len(typeSet))
	for t := range typeSet {
		eventTypes = append(eventTypes, t)
	}
	sort.Strings(eventTypes)

	noun := "alert"
	if len(alerts) > 1 {
		noun = "alerts"
	}
	subject = fmt.Sprintf("%d security %s: %s", len(alerts), noun, strings.Join(eventTypes, ", "))
	if s.subjectPrefix != "" {
		subject = s.subjectPrefix + " " + subject
	}

	var tb, hb strings.Builder
	tb.WriteString("The following security events need attention:\n\n")
	hb.WriteString("<!DOCTYPE html>\n<html>\n<body>\n<h2>Security alerts</h2>\n<table border=\"1\" cellpadding=\"4\">\n")
	hb.WriteString("<tr><th>Time</th><th>Event</th><th>Subject</th><th>Details</th></tr>\n")

	for _, ev := range alerts {
		at := ev.Timestamp.UTC().Format(time.RFC3339)
		subj := logger.SanitizedKey(ev.SubjectKey)
		details := formatDetails(ev.Details)

		fmt.Fprintf(&tb, "- %s  %s  %s  %s\n", at, ev.Type, subj, details)
		fmt.Fprintf(&hb, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			at, html.EscapeString(ev.Type), html.EscapeString(subj), html.EscapeString(details))
	}

	tb.WriteString("\nThis is an automated message. Please do not reply to this email.\n")
	hb.WriteString("</table>\n<p>This is an automated message. Please do not reply to this email.</p>\n</body>\n</html>\n")

	return subject, tb.String(), hb.String()
}

func formatDetails(details models.EventDetails) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
