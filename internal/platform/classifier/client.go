// Package classifier wraps the external chest X-ray inference service. The
// service scores an image against a fixed vocabulary of conditions; this
// client validates the response shape and converts the raw probability map
// into a ranked prediction list. A malformed or partial response is a
// service failure, never valid zero-confidence data.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"
)

// Conditions is the fixed, ordered vocabulary the inference model was
// trained on. The service must return a probability for every entry and
// nothing else.
var Conditions = []string{
	"Atelectasis", "Cardiomegaly", "Effusion", "Infiltration", "Mass", "Nodule",
	"Pneumonia", "Pneumothorax", "Consolidation", "Edema", "Emphysema", "Fibrosis",
	"Pleural_Thickening", "Hernia",
}

var conditionSet = func() map[string]bool {
	m := make(map[string]bool, len(Conditions))
	for _, c := range Conditions {
		m[c] = true
	}
	return m
}()

// Prediction is one labeled probability from the classifier.
type Prediction struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
}

// Result is the validated, ranked output of one inference call.
// Predictions are sorted by probability descending; ties keep vocabulary
// order so the ranking is deterministic.
type Result struct {
	Predictions          []Prediction `json:"predictions"`
	NoSignificantFinding bool         `json:"no_significant_finding"`
}

// Top returns the highest-ranked prediction, or a zero Prediction when the
// result carries none. Results built by this package are never empty.
func (r *Result) Top() Prediction {
	if len(r.Predictions) == 0 {
		return Prediction{}
	}
	return r.Predictions[0]
}

// Config holds classifier client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a synchronous-request wrapper over the inference HTTP service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type predictResponse struct {
	Status               string             `json:"status"`
	Predictions          map[string]float64 `json:"predictions"`
	ConditionsOrder      []string           `json:"conditions_order"`
	NoSignificantFinding bool               `json:"no_significant_finding"`
	Error                string             `json:"error,omitempty"`
}

// Classify submits the image bytes for inference and returns the ranked
// prediction set. Timeouts and non-2xx responses surface as errors; so do
// responses that violate the vocabulary contract.
func (c *Client) Classify(ctx context.Context, fileName string, image []byte) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call classification service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read classification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classification service returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var pr predictResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode classification response: %w", err)
	}
	if pr.Error != "" {
		return nil, fmt.Errorf("classification service error: %s", pr.Error)
	}

	return buildResult(pr.Predictions, pr.NoSignificantFinding)
}

// buildResult validates the probability map against the vocabulary and
// ranks it. Every condition must be present with a probability in [0,1];
// unrecognized labels are contract violations.
func buildResult(probs map[string]float64, noSignificantFinding bool) (*Result, error) {
	if len(probs) == 0 {
		return nil, fmt.Errorf("classification response contains no predictions")
	}
	for label := range probs {
		if !conditionSet[label] {
			return nil, fmt.Errorf("classification response contains unrecognized condition %q", label)
		}
	}

	predictions := make([]Prediction, 0, len(Conditions))
	for _, cond := range Conditions {
		p, ok := probs[cond]
		if !ok {
			return nil, fmt.Errorf("classification response is missing condition %q", cond)
		}
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("probability for %q out of range: %v", cond, p)
		}
		predictions = append(predictions, Prediction{Condition: cond, Probability: p})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Probability > predictions[j].Probability
	})

	return &Result{
		Predictions:          predictions,
		NoSignificantFinding: noSignificantFinding,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
