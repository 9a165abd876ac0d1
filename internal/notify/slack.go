package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlackConfig configures delivery to a Slack incoming webhook
type SlackConfig struct {
	WebhookURL string
	Channel    string

	// Mentions are added to failed and fatal messages, e.g. "@oncall".
	Mentions []string

	// Events limits delivery to these event types. Empty means all.
	Events []string
}

// SlackProvider posts Block Kit messages to a Slack incoming webhook
type SlackProvider struct {
	config SlackConfig
	events subscription
	client *http.Client
}

// NewSlackProvider creates a Slack provider
func NewSlackProvider(cfg SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: cfg,
		events: subscription(cfg.Events),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "slack"
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent reports whether t is one of the configured events
func (p *SlackProvider) SupportsEvent(t EventType) bool {
	return p.events.supports(t)
}

// Validate checks the webhook URL and event names
func (p *SlackProvider) Validate(ctx context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("slack: webhook URL is required")
	}
	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("slack: invalid webhook URL")
	}
	if err := p.events.validate(); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// Send posts one message for event
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(p.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// The URL embeds the webhook token, so only the cause is reported.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func mrkdwn(format string, args ...interface{}) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

func (p *SlackProvider) buildMessage(event Event) slackMessage {
	title := fmt.Sprintf("%s %s", slackEmoji(event.Type), event.Title())

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
	}

	fields := []slackText{mrkdwn("*Principal:*\n%s", event.Principal)}
	if event.Action != "" {
		fields = append(fields, mrkdwn("*Action:*\n%s", event.Action))
	}
	if event.KeyID != "" {
		fields = append(fields, mrkdwn("*Key:*\n`%s`", event.KeyID))
	}
	if event.Duration > 0 {
		fields = append(fields, mrkdwn("*Duration:*\n%s", event.Duration.Round(time.Millisecond)))
	}
	blocks = append(blocks, slackBlock{Type: "section", Fields: fields})

	if event.Error != "" {
		text := mrkdwn(":warning: *Error (%s):*\n```%s```", event.Reason, event.Error)
		blocks = append(blocks, slackBlock{Type: "section", Text: &text})
	}

	if event.Type != EventCompleted && len(p.config.Mentions) > 0 {
		text := mrkdwn("*Attention:* %s", strings.Join(p.config.Mentions, " "))
		blocks = append(blocks, slackBlock{Type: "section", Text: &text})
	}

	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{mrkdwn("keyrot | %s", event.Timestamp.Format(time.RFC3339))},
	})

	return slackMessage{
		Channel: p.config.Channel,
		Text:    title,
		Blocks:  blocks,
	}
}

func slackEmoji(t EventType) string {
	switch t {
	case EventFatal:
		return ":rotating_light:"
	case EventFailed:
		return ":x:"
	default:
		return ":white_check_mark:"
	}
}
