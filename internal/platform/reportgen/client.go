// Package reportgen wraps the external LLM report service. The service
// turns a classification outcome plus patient context into a structured
// radiology report with four fixed sections; a response lacking any section
// is a contract violation.
package reportgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/radiolyze/radiolyze/internal/platform/classifier"
)

// PatientContext carries what the report prompt knows about the patient.
// ID must resolve; everything else is optional and merely enriches the
// report.
type PatientContext struct {
	ID              string `json:"id"`
	Age             *int   `json:"age,omitempty"`
	Gender          string `json:"gender,omitempty"`
	ClinicalHistory string `json:"clinicalHistory,omitempty"`
}

// Request is the report-generation input contract.
type Request struct {
	PrimaryCondition     string
	Confidence           float64
	SecondaryFindings    string
	NoSignificantFinding bool
	Patient              PatientContext
}

// Report is the validated four-section output.
type Report struct {
	Summary         string    `json:"summary"`
	Findings        string    `json:"findings"`
	Impression      string    `json:"impression"`
	Recommendations string    `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Config holds report client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a synchronous-request wrapper over the report HTTP service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generatePayload struct {
	AnalysisResults struct {
		Condition            string  `json:"condition"`
		Confidence           float64 `json:"confidence"`
		AdditionalContext    string  `json:"additionalContext,omitempty"`
		NoSignificantFinding bool    `json:"noSignificantFinding,omitempty"`
	} `json:"analysisResults"`
	PatientInfo PatientContext `json:"patientInfo"`
}

type generateResponse struct {
	Report *struct {
		Summary         string `json:"summary"`
		Findings        string `json:"findings"`
		Impression      string `json:"impression"`
		Recommendations string `json:"recommendations"`
	} `json:"report"`
	Error string `json:"error,omitempty"`
}

// Generate requests a structured report. The returned report always has all
// four sections populated; anything less surfaces as an error.
func (c *Client) Generate(ctx context.Context, req Request) (*Report, error) {
	if req.PrimaryCondition == "" {
		return nil, fmt.Errorf("primary condition is required")
	}
	if req.Patient.ID == "" {
		return nil, fmt.Errorf("patient id is required")
	}

	var payload generatePayload
	payload.AnalysisResults.Condition = req.PrimaryCondition
	payload.AnalysisResults.Confidence = req.Confidence
	payload.AnalysisResults.AdditionalContext = req.SecondaryFindings
	payload.AnalysisResults.NoSignificantFinding = req.NoSignificantFinding
	payload.PatientInfo = req.Patient

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode report request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate_report", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call report service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read report response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("report service returned status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("decode report response: %w", err)
	}
	if gr.Error != "" {
		return nil, fmt.Errorf("report service error: %s", gr.Error)
	}
	if gr.Report == nil {
		return nil, fmt.Errorf("report response is missing the report object")
	}

	sections := map[string]string{
		"summary":         gr.Report.Summary,
		"findings":        gr.Report.Findings,
		"impression":      gr.Report.Impression,
		"recommendations": gr.Report.Recommendations,
	}
	for name, text := range sections {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("report response is missing the %s section", name)
		}
	}

	return &Report{
		Summary:         gr.Report.Summary,
		Findings:        gr.Report.Findings,
		Impression:      gr.Report.Impression,
		Recommendations: gr.Report.Recommendations,
		GeneratedAt:     time.Now(),
	}, nil
}

// SecondaryFindingsText renders the predictions above threshold, excluding
// the primary condition, as a labeled bullet list for the report prompt.
// Returns "" when nothing else is worth mentioning.
func SecondaryFindingsText(predictions []classifier.Prediction, primary string, threshold float64) string {
	var b strings.Builder
	for _, p := range predictions {
		if p.Condition == primary || p.Probability < threshold {
			continue
		}
		fmt.Fprintf(&b, "- %s: %.1f%%\n", strings.ReplaceAll(p.Condition, "_", " "), p.Probability*100)
	}
	return strings.TrimRight(b.String(), "\n")
}
