package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyrot/internal/lock"
	"github.com/systmms/keyrot/internal/logging"
	"github.com/systmms/keyrot/pkg/keystore"
	"github.com/systmms/keyrot/pkg/rotation"
)

func twoKeys() []keystore.AccessKey {
	now := time.Now()
	return []keystore.AccessKey{
		{ID: "k2", CreatedAt: now, Status: keystore.StatusActive},
		{ID: "k1", CreatedAt: now.Add(-time.Hour), Status: keystore.StatusInactive},
	}
}

func TestRecorder_RotationFinished(t *testing.T) {
	t.Parallel()

	r := New(false)
	ctx := context.Background()

	r.RotationFinished(ctx, &rotation.Result{
		Principal: "ci",
		Action:    rotation.Action{Kind: rotation.KindDelete, KeyID: "k1"},
		Keys:      twoKeys(),
		Duration:  2 * time.Second,
	}, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("ci", "delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.keys.WithLabelValues("ci")))

	r.RotationFinished(ctx, &rotation.Result{
		Principal: "ci",
		Action:    rotation.Action{Kind: rotation.KindFatal, Reason: "too many keys"},
		Keys:      append(twoKeys(), keystore.AccessKey{ID: "k0"}),
	}, &rotation.InvariantError{Principal: "ci", Reason: "too many keys"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("ci", rotation.ReasonInvariant)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.keys.WithLabelValues("ci")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration), "one series per principal")
}

func TestRecorder_KeyGaugeOnCreate(t *testing.T) {
	t.Parallel()

	r := New(false)
	newKey := keystore.AccessKey{ID: "k3", Status: keystore.StatusActive}

	r.RotationFinished(context.Background(), &rotation.Result{
		Principal: "ci",
		Action:    rotation.Action{Kind: rotation.KindCreate},
		Keys:      twoKeys()[:1],
		NewKey:    &newKey,
	}, &rotation.DistributionError{Principal: "ci", KeyID: "k3", Err: errors.New("push failed")})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.keys.WithLabelValues("ci")), "a created key counts even when distribution failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("ci", rotation.ReasonDistribution)))
}

func TestRecorder_LockedStepLeavesGaugeAlone(t *testing.T) {
	t.Parallel()

	r := New(false)
	r.RotationFinished(context.Background(), &rotation.Result{Principal: "ci"}, lock.ErrLocked)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("ci", rotation.ReasonLocked)))
	assert.Equal(t, 0, testutil.CollectAndCount(r.keys))
}

func TestRecorder_ObserveDistribution(t *testing.T) {
	t.Parallel()

	r := New(false)
	r.ObserveDistribution("travis-main", nil)
	r.ObserveDistribution("travis-main", nil)
	r.ObserveDistribution("vault", errors.New("denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.distributions.WithLabelValues("travis-main", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.distributions.WithLabelValues("vault", "failure")))
}

func TestRecorder_Handler(t *testing.T) {
	t.Parallel()

	r := New(true)
	r.ObserveDistribution("travis-main", nil)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `keyrot_distribution_total{distributor="travis-main",status="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRecorder_Push(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotMethod = req.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	r := New(false)
	r.ObserveDistribution("travis-main", nil)
	require.NoError(t, r.Push(context.Background(), gateway.URL, "keyrot"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/keyrot"), gotPath)
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", New(false), logging.New(false, true))
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop(context.Background()) }()

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
