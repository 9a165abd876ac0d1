package config

// NotificationConfig holds configuration for rotation notifications.
type NotificationConfig struct {
	// Slack configuration for Slack incoming webhook notifications.
	Slack *SlackNotificationConfig `yaml:"slack,omitempty"`

	// Webhooks configuration for custom webhook notifications.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// SlackNotificationConfig holds Slack webhook configuration for rotation events.
type SlackNotificationConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	// Accepts a credential reference such as "env:SLACK_WEBHOOK_URL".
	WebhookURL string `yaml:"webhook_url"`

	// Channel overrides the webhook's default channel.
	Channel string `yaml:"channel,omitempty"`

	// Mentions are prepended to fatal and failed messages, e.g. ["@oncall"].
	Mentions []string `yaml:"mentions,omitempty"`

	// Events specifies which rotation events trigger notifications.
	// Valid values: completed, failed, fatal. Empty means all.
	Events []string `yaml:"events,omitempty"`
}

// WebhookNotificationConfig holds configuration for a generic JSON webhook.
type WebhookNotificationConfig struct {
	// Name identifies this webhook in logs.
	Name string `yaml:"name"`

	// URL receives a POST with the event as JSON.
	// Accepts a credential reference.
	URL string `yaml:"url"`

	// Headers are added to every request. Values accept credential references.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Events specifies which rotation events trigger notifications.
	Events []string `yaml:"events,omitempty"`

	// RetryAttempts is the number of retries after the first failure (default 3).
	RetryAttempts *int `yaml:"retry_attempts,omitempty"`
}
