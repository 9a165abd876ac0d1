package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyrot/internal/config"
	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/pkg/keystore"
	"github.com/systmms/keyrot/pkg/rotation"
	"github.com/systmms/keyrot/tests/testutil"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int
}

// newRecordingServer answers with statuses in order, then 200
func newRecordingServer(t *testing.T, statuses ...int) *recordingServer {
	t.Helper()
	rs := &recordingServer{statuses: statuses}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, body)
		rs.headers = append(rs.headers, r.Header.Clone())
		status := http.StatusOK
		if len(rs.statuses) > 0 {
			status = rs.statuses[0]
			rs.statuses = rs.statuses[1:]
		}
		rs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) requests() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.bodies)
}

func (rs *recordingServer) body(i int) []byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.bodies[i]
}

func TestEventFromResult(t *testing.T) {
	t.Parallel()

	newKey := keystore.AccessKey{ID: "AKIANEW"}

	tests := []struct {
		name       string
		res        *rotation.Result
		err        error
		wantType   EventType
		wantKey    string
		wantReason string
	}{
		{
			name:     "create uses the new key",
			res:      &rotation.Result{Principal: "ci", Action: rotation.Action{Kind: rotation.KindCreate}, NewKey: &newKey},
			wantType: EventCompleted,
			wantKey:  "AKIANEW",
		},
		{
			name:     "delete names the older key",
			res:      &rotation.Result{Principal: "ci", Action: rotation.Action{Kind: rotation.KindDelete, KeyID: "AKIAOLD"}},
			wantType: EventCompleted,
			wantKey:  "AKIAOLD",
		},
		{
			name:       "invariant is fatal",
			res:        &rotation.Result{Principal: "ci", Action: rotation.Action{Kind: rotation.KindFatal}},
			err:        &rotation.InvariantError{Principal: "ci", Reason: "too many keys: 3, at most 2 allowed"},
			wantType:   EventFatal,
			wantReason: rotation.ReasonInvariant,
		},
		{
			name:       "lock contention fails",
			res:        &rotation.Result{Principal: "ci"},
			err:        lock.ErrLocked,
			wantType:   EventFailed,
			wantReason: rotation.ReasonLocked,
		},
		{
			name:       "distribution failure keeps the key id",
			res:        &rotation.Result{Principal: "ci", Action: rotation.Action{Kind: rotation.KindCreate}, NewKey: &newKey},
			err:        &rotation.DistributionError{Principal: "ci", KeyID: "AKIANEW", Err: errors.New("boom")},
			wantType:   EventFailed,
			wantKey:    "AKIANEW",
			wantReason: rotation.ReasonDistribution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := EventFromResult(tt.res, tt.err, epoch)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantKey, ev.KeyID)
			assert.Equal(t, tt.wantReason, ev.Reason)
			assert.Equal(t, "ci", ev.Principal)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), ev.Error)
			}
		})
	}
}

func TestSlackProvider_Send(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	p := NewSlackProvider(SlackConfig{
		WebhookURL: srv.URL,
		Channel:    "#ops",
		Mentions:   []string{"@oncall"},
	})
	require.NoError(t, p.Validate(context.Background()))

	ev := Event{
		Type:      EventFatal,
		Principal: "ci",
		Action:    "fatal",
		Reason:    rotation.ReasonInvariant,
		Error:     "too many keys: 3, at most 2 allowed",
		Timestamp: epoch,
	}
	require.NoError(t, p.Send(context.Background(), ev))
	require.Equal(t, 1, srv.requests())

	var msg slackMessage
	require.NoError(t, json.Unmarshal(srv.body(0), &msg))
	assert.Equal(t, "#ops", msg.Channel)
	assert.Contains(t, msg.Text, "Rotation halted for ci")
	assert.Contains(t, string(srv.body(0)), "@oncall")
	assert.Contains(t, string(srv.body(0)), "too many keys")
}

func TestSlackProvider_NoMentionsOnSuccess(t *testing.T) {
	t.Parallel()

	p := NewSlackProvider(SlackConfig{WebhookURL: "https://hooks.example.com/x", Mentions: []string{"@oncall"}})
	msg := p.buildMessage(Event{Type: EventCompleted, Principal: "ci", Action: "create", KeyID: "AKIANEW", Timestamp: epoch})

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "@oncall")
	assert.Contains(t, string(raw), "AKIANEW")
}

func TestSlackProvider_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, http.StatusForbidden)
	p := NewSlackProvider(SlackConfig{WebhookURL: srv.URL})

	err := p.Send(context.Background(), Event{Type: EventFailed, Principal: "ci"})
	assert.ErrorContains(t, err, "403")
}

func TestSubscription(t *testing.T) {
	t.Parallel()

	all := subscription(nil)
	for _, typ := range AllEventTypes() {
		assert.True(t, all.supports(typ))
	}

	alerts := subscription{"FATAL", "failed"}
	assert.True(t, alerts.supports(EventFatal))
	assert.True(t, alerts.supports(EventFailed))
	assert.False(t, alerts.supports(EventCompleted))

	assert.NoError(t, alerts.validate())
	assert.ErrorContains(t, subscription{"started"}.validate(), `"started"`)
}

func TestProviders_Validate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	assert.Error(t, NewSlackProvider(SlackConfig{}).Validate(ctx))
	assert.Error(t, NewSlackProvider(SlackConfig{WebhookURL: "not a url"}).Validate(ctx))
	assert.Error(t, NewWebhookProvider(WebhookConfig{Name: "ops"}).Validate(ctx))
	assert.Error(t, NewWebhookProvider(WebhookConfig{Name: "ops", URL: "https://ops.example.com", Events: []string{"rollback"}}).Validate(ctx))
	assert.NoError(t, NewWebhookProvider(WebhookConfig{Name: "ops", URL: "https://ops.example.com", Events: []string{"fatal"}}).Validate(ctx))
}

func TestWebhookProvider_Send(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	p := NewWebhookProvider(WebhookConfig{
		Name:    "ops",
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer abc"},
	})
	assert.Equal(t, "webhook:ops", p.Name())

	ev := Event{Type: EventCompleted, Principal: "ci", Action: "delete", KeyID: "AKIAOLD", Duration: time.Second, Timestamp: epoch}
	require.NoError(t, p.Send(context.Background(), ev))

	var got Event
	require.NoError(t, json.Unmarshal(srv.body(0), &got))
	assert.Equal(t, ev, got)
	assert.Equal(t, "Bearer abc", srv.headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", srv.headers[0].Get("Content-Type"))
}

func TestWebhookProvider_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, http.StatusBadGateway, http.StatusTooManyRequests)
	p := NewWebhookProvider(WebhookConfig{URL: srv.URL, Retries: 3, InitialWait: time.Millisecond})

	require.NoError(t, p.Send(context.Background(), Event{Type: EventFailed, Principal: "ci"}))
	assert.Equal(t, 3, srv.requests())
}

func TestWebhookProvider_GivesUp(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, 500, 500, 500, 500)
	p := NewWebhookProvider(WebhookConfig{Name: "ops", URL: srv.URL, Retries: 2, InitialWait: time.Millisecond})

	err := p.Send(context.Background(), Event{Type: EventFailed, Principal: "ci"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, 3, srv.requests())
}

func TestWebhookProvider_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, http.StatusUnauthorized)
	p := NewWebhookProvider(WebhookConfig{URL: srv.URL, Retries: 3, InitialWait: time.Millisecond})

	err := p.Send(context.Background(), Event{Type: EventFailed, Principal: "ci"})
	assert.ErrorContains(t, err, "401")
	assert.Equal(t, 1, srv.requests())
}

type stubProvider struct {
	name   string
	events subscription
	err    error
	sent   atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SupportsEvent(t EventType) bool { return s.events.supports(t) }

func (s *stubProvider) Validate(ctx context.Context) error { return s.err }

func (s *stubProvider) Send(ctx context.Context, _ Event) error {
	s.sent.Add(1)
	return s.err
}

func TestManager_RoutesBySubscription(t *testing.T) {
	t.Parallel()

	logger, logs := testutil.NewTestLogger(t)
	alerts := &stubProvider{name: "alerts", events: subscription{"fatal", "failed"}}
	audit := &stubProvider{name: "audit"}
	broken := &stubProvider{name: "broken", err: errors.New("connection refused")}

	m := NewManager(logger, alerts, audit)
	m.Register(broken)
	assert.Len(t, m.Providers(), 3)

	m.RotationFinished(context.Background(), &rotation.Result{Principal: "ci", Action: rotation.Action{Kind: rotation.KindCreate}}, nil)
	m.RotationFinished(context.Background(), &rotation.Result{Principal: "ci"}, &rotation.InvariantError{Principal: "ci", Reason: "too many keys"})

	assert.Equal(t, int32(1), alerts.sent.Load())
	assert.Equal(t, int32(2), audit.sent.Load())
	assert.Equal(t, int32(2), broken.sent.Load())
	logs.AssertContains(t, "Notification via broken failed")
}

func TestManager_Validate(t *testing.T) {
	t.Parallel()

	logger, _ := testutil.NewTestLogger(t)
	m := NewManager(logger, &stubProvider{name: "ok"}, &stubProvider{name: "bad", err: errors.New("bad config")})
	assert.EqualError(t, m.Validate(context.Background()), "bad config")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	logger, _ := testutil.NewTestLogger(t)
	resolver := &config.Resolver{
		LookupEnv: func(name string) (string, bool) {
			switch name {
			case "SLACK_URL":
				return "https://hooks.slack.com/services/T/B/X", true
			case "OPS_TOKEN":
				return "Bearer s3cret", true
			}
			return "", false
		},
	}
	retries := 1

	m, err := FromConfig(&config.NotificationConfig{
		Slack: &config.SlackNotificationConfig{WebhookURL: "env:SLACK_URL", Events: []string{"fatal"}},
		Webhooks: []config.WebhookNotificationConfig{{
			Name:          "ops",
			URL:           "https://ops.example.com/hook",
			Headers:       map[string]string{"Authorization": "env:OPS_TOKEN"},
			RetryAttempts: &retries,
		}},
	}, resolver, logger)
	require.NoError(t, err)

	providers := m.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "slack", providers[0].Name())
	assert.False(t, providers[0].SupportsEvent(EventCompleted))

	wh, ok := providers[1].(*WebhookProvider)
	require.True(t, ok)
	assert.Equal(t, "Bearer s3cret", wh.config.Headers["Authorization"])
	assert.Equal(t, 1, wh.config.Retries)
	assert.NoError(t, m.Validate(context.Background()))
}

func TestFromConfig_UnresolvedReference(t *testing.T) {
	t.Parallel()

	logger, _ := testutil.NewTestLogger(t)
	resolver := &config.Resolver{LookupEnv: func(string) (string, bool) { return "", false }}

	_, err := FromConfig(&config.NotificationConfig{
		Slack: &config.SlackNotificationConfig{WebhookURL: "env:MISSING"},
	}, resolver, logger)
	assert.ErrorContains(t, err, "notifications.slack.webhook_url")
}

func TestFromConfig_Nil(t *testing.T) {
	t.Parallel()

	logger, _ := testutil.NewTestLogger(t)
	m, err := FromConfig(nil, config.NewResolver(), logger)
	require.NoError(t, err)
	assert.Empty(t, m.Providers())
}
