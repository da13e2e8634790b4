package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/geowatch/geowatch/internal/evaluate"
	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/resilience"
)

// EmailOptions configures the email gateway client.
type EmailOptions struct {
	GatewayURL   string
	APIKey       string
	SenderEmail  string
	DashboardURL string
	Timeout      time.Duration
}

// EmailNotifier sends change alerts through an HTTP email gateway.
type EmailNotifier struct {
	client  *http.Client
	opts    EmailOptions
	printer *message.Printer
	logger  *zap.Logger
}

// NewEmailNotifier creates an EmailNotifier with the given options.
func NewEmailNotifier(opts EmailOptions) *EmailNotifier {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SenderEmail == "" {
		opts.SenderEmail = "geowatch-alerts@example.com"
	}
	return &EmailNotifier{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		printer: message.NewPrinter(language.English),
		logger:  zap.L().With(zap.String("component", "notify")),
	}
}

type emailMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (n *EmailNotifier) Notify(ctx context.Context, user *model.User, zone *model.Zone, rec *model.ChangeRecord) error {
	if !zone.EmailAlerts {
		n.logger.Debug("email alerts disabled for zone", zap.String("zone_id", zone.ID))
		return nil
	}

	msg := emailMessage{
		From:    n.opts.SenderEmail,
		To:      user.Email,
		Subject: n.subject(zone, rec),
		Body:    n.body(user, zone, rec),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "notify: marshal message"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.opts.GatewayURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "notify: build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if n.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.opts.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "notify: send email"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		errResp := fmt.Errorf("notify: gateway returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(errResp, resp.StatusCode)
		}
		return resilience.NewPermanentError(errResp)
	}

	n.logger.Info("change alert sent",
		zap.String("zone_id", zone.ID),
		zap.String("record_id", rec.ID),
		zap.String("severity", string(rec.Severity)),
	)
	return nil
}

func (n *EmailNotifier) subject(zone *model.Zone, rec *model.ChangeRecord) string {
	return fmt.Sprintf("[%s] Change detected in %s", severityLabel(rec.Severity), zone.Name)
}

func (n *EmailNotifier) body(user *model.User, zone *model.Zone, rec *model.ChangeRecord) string {
	var b bytes.Buffer
	name := user.Name
	if name == "" {
		name = user.Email
	}
	n.printer.Fprintf(&b, "Hi %s,\n\n", name)
	n.printer.Fprintf(&b, "We detected a %s change in your monitored zone %q on %s.\n\n",
		severityLabel(rec.Severity), zone.Name, rec.DetectedAt.Format("Jan 2, 2006 15:04 MST"))
	n.printer.Fprintf(&b, "Changed area: %s (%.1f%% of reference cell)\n",
		evaluate.FormatArea(rec.ChangeAreaM2), rec.ChangePercent)
	if n.opts.DashboardURL != "" {
		n.printer.Fprintf(&b, "\nView details: %s/zones/%s\n", n.opts.DashboardURL, zone.ID)
	}
	return b.String()
}

func severityLabel(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "CRITICAL"
	case model.SeverityHigh:
		return "HIGH"
	case model.SeverityModerate:
		return "MODERATE"
	default:
		return "LOW"
	}
}
