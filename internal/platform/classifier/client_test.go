package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fullProbs(top string, topProb, rest float64) map[string]float64 {
	probs := make(map[string]float64, len(Conditions))
	for _, c := range Conditions {
		probs[c] = rest
	}
	probs[top] = topProb
	return probs
}

func predictServer(t *testing.T, probs map[string]float64, noFinding bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":                 "success",
			"predictions":            probs,
			"conditions_order":       Conditions,
			"no_significant_finding": noFinding,
		})
	}))
}

func TestClassifyRanksPredictionsDescending(t *testing.T) {
	probs := fullProbs("Effusion", 0.82, 0.05)
	probs["Pneumonia"] = 0.40
	srv := predictServer(t, probs, false)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	result, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if len(result.Predictions) != len(Conditions) {
		t.Fatalf("got %d predictions, want %d", len(result.Predictions), len(Conditions))
	}
	if top := result.Top(); top.Condition != "Effusion" || top.Probability != 0.82 {
		t.Errorf("top = %+v, want Effusion @ 0.82", top)
	}
	if result.Predictions[1].Condition != "Pneumonia" {
		t.Errorf("second = %s, want Pneumonia", result.Predictions[1].Condition)
	}
	for i := 1; i < len(result.Predictions); i++ {
		if result.Predictions[i].Probability > result.Predictions[i-1].Probability {
			t.Fatalf("predictions not sorted descending at index %d", i)
		}
	}
	if result.NoSignificantFinding {
		t.Error("unexpected no_significant_finding flag")
	}
}

func TestClassifyCarriesLowConfidenceFlag(t *testing.T) {
	srv := predictServer(t, fullProbs("Nodule", 0.12, 0.02), true)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	result, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !result.NoSignificantFinding {
		t.Error("expected no_significant_finding to carry through")
	}
}

func TestTopOnEmptyResultIsZero(t *testing.T) {
	var r Result
	if top := r.Top(); top != (Prediction{}) {
		t.Errorf("top = %+v, want zero prediction", top)
	}
}

func TestClassifyRejectsMissingCondition(t *testing.T) {
	probs := fullProbs("Effusion", 0.8, 0.05)
	delete(probs, "Hernia")
	srv := predictServer(t, probs, false)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err == nil || !strings.Contains(err.Error(), "missing condition") {
		t.Errorf("err = %v, want missing-condition violation", err)
	}
}

func TestClassifyRejectsUnknownCondition(t *testing.T) {
	probs := fullProbs("Effusion", 0.8, 0.05)
	probs["Covid"] = 0.5
	srv := predictServer(t, probs, false)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err == nil || !strings.Contains(err.Error(), "unrecognized condition") {
		t.Errorf("err = %v, want unrecognized-condition violation", err)
	}
}

func TestClassifyRejectsOutOfRangeProbability(t *testing.T) {
	srv := predictServer(t, fullProbs("Mass", 1.7, 0.05), false)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("err = %v, want out-of-range violation", err)
	}
}

func TestClassifyServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestClassifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Classify(context.Background(), "chest.png", []byte("img"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
