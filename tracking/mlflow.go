package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const mlflowAPI = "/api/2.0/mlflow/"

// MLflowOptions configures an MLflow run.
type MLflowOptions struct {
	TrackingURI    string
	ExperimentName string
	RunName        string
	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client
}

// MLflow logs to an MLflow tracking server through its REST API.
type MLflow struct {
	base         string
	client       *http.Client
	experimentID string
	runID        string
	now          func() time.Time
}

// NewMLflow resolves (or creates) the experiment and starts a run.
func NewMLflow(opts MLflowOptions) (*MLflow, error) {
	if opts.TrackingURI == "" {
		return nil, errors.New("mlflow: empty tracking URI")
	}
	u, err := url.Parse(opts.TrackingURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.Errorf("mlflow: tracking URI %q must be an http(s) URL", opts.TrackingURI)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	m := &MLflow{
		base:   strings.TrimRight(opts.TrackingURI, "/") + mlflowAPI,
		client: client,
		now:    time.Now,
	}

	if m.experimentID, err = m.experiment(opts.ExperimentName); err != nil {
		return nil, err
	}

	req := map[string]any{
		"experiment_id": m.experimentID,
		"start_time":    m.now().UnixMilli(),
	}
	if opts.RunName != "" {
		req["run_name"] = opts.RunName
	}
	var resp struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := m.post("runs/create", req, &resp); err != nil {
		return nil, err
	}
	if resp.Run.Info.RunID == "" {
		return nil, errors.New("mlflow: runs/create returned no run id")
	}
	m.runID = resp.Run.Info.RunID
	klog.Infof("MLflow run %s started in experiment %q (%s)", m.runID, opts.ExperimentName, m.experimentID)
	return m, nil
}

// RunID returns the id of the active run.
func (m *MLflow) RunID() string { return m.runID }

func (m *MLflow) experiment(name string) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := m.get("experiments/get-by-name", url.Values{"experiment_name": {name}}, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	var apiErr *mlflowError
	if !errors.As(err, &apiErr) || apiErr.Code != "RESOURCE_DOES_NOT_EXIST" {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := m.post("experiments/create", map[string]any{"name": name}, &created); err != nil {
		return "", err
	}
	return created.ExperimentID, nil
}

// LogParams implements MetricsSink.
func (m *MLflow) LogParams(params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	batch := make([]map[string]string, len(keys))
	for i, k := range keys {
		batch[i] = map[string]string{"key": k, "value": params[k]}
	}
	return m.post("runs/log-batch", map[string]any{"run_id": m.runID, "params": batch}, nil)
}

// LogMetric implements MetricsSink.
func (m *MLflow) LogMetric(key string, value float64, step int) error {
	return m.post("runs/log-metric", map[string]any{
		"run_id":    m.runID,
		"key":       key,
		"value":     value,
		"timestamp": m.now().UnixMilli(),
		"step":      step,
	}, nil)
}

// Close implements MetricsSink.
func (m *MLflow) Close(status Status) error {
	return m.post("runs/update", map[string]any{
		"run_id":   m.runID,
		"status":   string(status),
		"end_time": m.now().UnixMilli(),
	}, nil)
}

// mlflowError is the error body returned by the tracking server.
type mlflowError struct {
	Status  int
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (e *mlflowError) Error() string {
	return fmt.Sprintf("mlflow: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (m *MLflow) get(endpoint string, query url.Values, out any) error {
	req, err := http.NewRequest(http.MethodGet, m.base+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return errors.Wrapf(err, "mlflow: building %s request", endpoint)
	}
	return m.do(endpoint, req, out)
}

func (m *MLflow) post(endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "mlflow: encoding %s request", endpoint)
	}
	req, err := http.NewRequest(http.MethodPost, m.base+endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "mlflow: building %s request", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(endpoint, req, out)
}

func (m *MLflow) do(endpoint string, req *http.Request, out any) error {
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mlflow: %s", endpoint)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "mlflow: reading %s response", endpoint)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &mlflowError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(body, out), "mlflow: decoding %s response", endpoint)
}
