package notify

import (
	"fmt"

	"github.com/systmms/keyrot/internal/config"
	"github.com/systmms/keyrot/internal/logging"
)

// FromConfig builds a Manager from the notifications section of keyrot.yaml,
// resolving credential references in URLs and header values. A nil section
// yields a manager with no providers.
func FromConfig(cfg *config.NotificationConfig, resolver *config.Resolver, logger *logging.Logger) (*Manager, error) {
	m := NewManager(logger)
	if cfg == nil {
		return m, nil
	}

	if cfg.Slack != nil {
		webhookURL, err := resolver.Resolve(cfg.Slack.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("notifications.slack.webhook_url: %w", err)
		}
		m.Register(NewSlackProvider(SlackConfig{
			WebhookURL: webhookURL.Reveal(),
			Channel:    cfg.Slack.Channel,
			Mentions:   cfg.Slack.Mentions,
			Events:     cfg.Slack.Events,
		}))
	}

	for i, wh := range cfg.Webhooks {
		target, err := resolver.Resolve(wh.URL)
		if err != nil {
			return nil, fmt.Errorf("notifications.webhooks[%d].url: %w", i, err)
		}

		headers := make(map[string]string, len(wh.Headers))
		for name, ref := range wh.Headers {
			value, err := resolver.Resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("notifications.webhooks[%d].headers.%s: %w", i, name, err)
			}
			headers[name] = value.Reveal()
		}

		retries := DefaultWebhookRetries
		if wh.RetryAttempts != nil {
			retries = *wh.RetryAttempts
		}

		m.Register(NewWebhookProvider(WebhookConfig{
			Name:    wh.Name,
			URL:     target.Reveal(),
			Headers: headers,
			Events:  wh.Events,
			Retries: retries,
		}))
	}

	return m, nil
}
