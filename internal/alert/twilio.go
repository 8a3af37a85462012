package alert

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"autotrageur/internal/config"
	"autotrageur/internal/core"
	httpclient "autotrageur/pkg/http"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioChannel delivers alerts by SMS through the Twilio REST API. In mock
// mode the messages are logged instead of sent, for dry runs and tests.
type TwilioChannel struct {
	cfg    *config.TwilioConfig
	client *httpclient.Client
	logger core.ILogger
}

func NewTwilioChannel(cfg *config.TwilioConfig, logger core.ILogger) *TwilioChannel {
	client := httpclient.NewClient(twilioBaseURL, 15*time.Second, &httpclient.BasicAuth{
		Username: string(cfg.AccountSID),
		Password: string(cfg.AuthToken),
	})
	return &TwilioChannel{
		cfg:    cfg,
		client: client,
		logger: logger.WithField("component", "twilio_channel"),
	}
}

func (t *TwilioChannel) Name() string {
	return "twilio"
}

func (t *TwilioChannel) Send(ctx context.Context, payload core.AlertPayload) error {
	if t.cfg == nil || len(t.cfg.ToNumbers) == 0 {
		return nil
	}

	body := fmt.Sprintf("[%s] %s\n%s", payload.Level, payload.Title, payload.Message)

	if t.cfg.IsMock {
		t.logger.Info("Mock SMS", "to", strings.Join(t.cfg.ToNumbers, ","), "body", body)
		return nil
	}

	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", string(t.cfg.AccountSID))

	var failed []string
	for _, to := range t.cfg.ToNumbers {
		form := url.Values{}
		form.Set("From", t.cfg.FromNumber)
		form.Set("To", to)
		form.Set("Body", body)

		if _, err := t.client.PostForm(ctx, path, form); err != nil {
			t.logger.Error("Twilio send failed", "to", to, "error", err)
			failed = append(failed, to)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("twilio delivery failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}
