package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"recurring-billing-service/pkg/errors"
)

const defaultResendEndpoint = "https://api.resend.com/emails"

// EmailConfig holds the Resend e-mail settings
type EmailConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether enough settings are present to send mail
func (c *EmailConfig) Enabled() bool {
	return c != nil && c.APIKey != "" && len(c.To) > 0
}

// Validate validates the e-mail configuration
func (c *EmailConfig) Validate() error {
	if c.APIKey == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "notify.email.api_key", "", nil)
	}
	if c.From == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "notify.email.from", "", nil)
	}
	if len(c.To) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "notify.email.to", "", nil)
	}
	return nil
}

// EmailNotifier sends messages through the Resend HTTP API.
type EmailNotifier struct {
	config *EmailConfig
	client *http.Client
}

// NewEmailNotifier creates an e-mail notifier
func NewEmailNotifier(config *EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultResendEndpoint
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cfg := *config
	cfg.Endpoint = endpoint
	return &EmailNotifier{
		config: &cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Notify sends msg as an HTML e-mail
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	body := strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>")
	payload := map[string]interface{}{
		"from":    n.config.From,
		"to":      n.config.To,
		"subject": msg.Title,
		"html":    fmt.Sprintf("<h2>%s</h2><p>%s</p>", html.EscapeString(msg.Title), body),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", n.config.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send email: status %d", resp.StatusCode)
	}
	return nil
}
