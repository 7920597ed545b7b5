package tracking

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Noofbiz/finetune/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMLflow records every REST call made against it.
type fakeMLflow struct {
	mu                sync.Mutex
	calls             []string
	bodies            map[string][]map[string]any
	experimentMissing bool
}

func newFakeMLflow(t *testing.T, experimentMissing bool) (*fakeMLflow, *httptest.Server) {
	f := &fakeMLflow{bodies: map[string][]map[string]any{}, experimentMissing: experimentMissing}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, mlflowAPI)
		f.mu.Lock()
		f.calls = append(f.calls, endpoint)
		if r.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.bodies[endpoint] = append(f.bodies[endpoint], body)
		}
		f.mu.Unlock()

		switch endpoint {
		case "experiments/get-by-name":
			if f.experimentMissing {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"no such experiment"}`)
				return
			}
			assert.Equal(t, "sentiment", r.URL.Query().Get("experiment_name"))
			_, _ = io.WriteString(w, `{"experiment":{"experiment_id":"7"}}`)
		case "experiments/create":
			_, _ = io.WriteString(w, `{"experiment_id":"8"}`)
		case "runs/create":
			_, _ = io.WriteString(w, `{"run":{"info":{"run_id":"run-1"}}}`)
		case "runs/log-batch", "runs/log-metric", "runs/update":
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestMLflowRunLifecycle(t *testing.T) {
	f, srv := newFakeMLflow(t, false)

	m, err := NewMLflow(MLflowOptions{TrackingURI: srv.URL + "/", ExperimentName: "sentiment", RunName: "try-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID())

	require.NoError(t, m.LogParams(map[string]string{"epochs": "3", "batch_size": "8"}))
	require.NoError(t, m.LogMetric("eval_accuracy", 0.75, 120))
	require.NoError(t, m.Close(StatusFinished))

	assert.Equal(t, []string{
		"experiments/get-by-name", "runs/create", "runs/log-batch", "runs/log-metric", "runs/update",
	}, f.calls)

	create := f.bodies["runs/create"][0]
	assert.Equal(t, "7", create["experiment_id"])
	assert.Equal(t, "try-1", create["run_name"])

	params := f.bodies["runs/log-batch"][0]["params"].([]any)
	require.Len(t, params, 2)
	assert.Equal(t, "batch_size", params[0].(map[string]any)["key"])

	metric := f.bodies["runs/log-metric"][0]
	assert.Equal(t, "eval_accuracy", metric["key"])
	assert.Equal(t, 0.75, metric["value"])
	assert.Equal(t, 120.0, metric["step"])

	assert.Equal(t, "FINISHED", f.bodies["runs/update"][0]["status"])
}

func TestMLflowCreatesMissingExperiment(t *testing.T) {
	f, srv := newFakeMLflow(t, true)

	m, err := NewMLflow(MLflowOptions{TrackingURI: srv.URL, ExperimentName: "new-exp"})
	require.NoError(t, err)
	assert.Equal(t, "8", m.experimentID)
	assert.Equal(t, "new-exp", f.bodies["experiments/create"][0]["name"])
}

func TestMLflowRejectsBadURI(t *testing.T) {
	_, err := NewMLflow(MLflowOptions{TrackingURI: "file:///tmp/mlruns"})
	require.Error(t, err)
	_, err = NewMLflow(MLflowOptions{})
	require.Error(t, err)
}

func TestMLflowServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error_code":"INTERNAL_ERROR","message":"boom"}`)
	}))
	defer srv.Close()

	_, err := NewMLflow(MLflowOptions{TrackingURI: srv.URL, ExperimentName: "x"})
	var apiErr *mlflowError
	require.True(t, errors.As(err, &apiErr), "expected mlflowError, got %v", err)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

// fakeGateway accepts Pushgateway pushes and keeps the last body per path.
func newFakeGateway(t *testing.T) (*sync.Map, *httptest.Server) {
	var pushes sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		pushes.Store(r.URL.Path, body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return &pushes, srv
}

func TestPrometheusPushes(t *testing.T) {
	pushes, srv := newFakeGateway(t)

	p, err := NewPrometheus(PrometheusOptions{PushgatewayURL: srv.URL, Job: "finetune", RunID: "abc"})
	require.NoError(t, err)
	require.NoError(t, p.LogParams(map[string]string{"epochs": "2"}))
	require.NoError(t, p.LogMetric("train_loss", 0.5, 10))
	require.NoError(t, p.Close(StatusFailed))

	_, ok := pushes.Load("/metrics/job/finetune/run_id/abc")
	assert.True(t, ok, "expected a push grouped by job and run id")

	families, err := p.registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"finetune_metric_value", "finetune_metric_step", "finetune_run_params_info",
		"finetune_run_start_timestamp_seconds", "finetune_run_end_timestamp_seconds",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestPrometheusUnreachable(t *testing.T) {
	_, err := NewPrometheus(PrometheusOptions{PushgatewayURL: "http://127.0.0.1:1", Job: "finetune"})
	require.Error(t, err)
}

type failingSink struct {
	calls int
	panic bool
}

func (f *failingSink) LogParams(map[string]string) error {
	f.calls++
	return errors.New("params rejected")
}

func (f *failingSink) LogMetric(string, float64, int) error {
	f.calls++
	if f.panic {
		panic("sink exploded")
	}
	return errors.New("metric rejected")
}

func (f *failingSink) Close(Status) error {
	f.calls++
	return errors.New("close rejected")
}

func TestGuardSwallowsErrorsAndPanics(t *testing.T) {
	inner := &failingSink{panic: true}
	g := Guard(inner)

	assert.NoError(t, g.LogParams(map[string]string{"a": "b"}))
	assert.NotPanics(t, func() { assert.NoError(t, g.LogMetric("loss", 1, 1)) })
	assert.NoError(t, g.Close(StatusFinished))
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 3, g.(*guarded).failures)

	assert.Same(t, g, Guard(g), "guarding twice should not stack wrappers")
}

func TestMultiCallsEverySink(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	m := Multi{a, Noop{}, b}

	err := m.LogMetric("loss", 1, 1)
	require.EqualError(t, err, "metric rejected")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFromConfig(t *testing.T) {
	var cfg config.Config
	g, ok := FromConfig(cfg).(*guarded)
	require.True(t, ok)
	assert.IsType(t, Noop{}, g.sink)

	// An unreachable tracker falls back to the no-op sink.
	cfg.MLflow.TrackingURI = "http://127.0.0.1:1"
	cfg.MLflow.ExperimentName = "x"
	g = FromConfig(cfg).(*guarded)
	assert.IsType(t, Noop{}, g.sink)

	_, mlflowSrv := newFakeMLflow(t, false)
	_, gatewaySrv := newFakeGateway(t)
	cfg.MLflow.TrackingURI = mlflowSrv.URL
	cfg.MLflow.ExperimentName = "sentiment"
	cfg.Prometheus.PushgatewayURL = gatewaySrv.URL
	cfg.Prometheus.Job = "finetune"
	g = FromConfig(cfg).(*guarded)
	multi, ok := g.sink.(Multi)
	require.True(t, ok, "expected Multi, got %T", g.sink)
	require.Len(t, multi, 2)
	assert.IsType(t, &MLflow{}, multi[0])
	assert.IsType(t, &Prometheus{}, multi[1])
}
