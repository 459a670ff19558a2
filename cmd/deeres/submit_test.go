package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deeres/internal/agent/core"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"github.com/mohammad-safakhou/deeres/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func fakeAPI(t *testing.T, final jobs.Job) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate-report", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(server.HTTPError{Error: "Invalid or missing API Key"})
			return
		}
		var req server.GenerateReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Solar energy trends", req.Topic)
		assert.Equal(t, "1", req.ConfigOverrides["max_search_depth"])
		_ = json.NewEncoder(w).Encode(server.GenerateReportResponse{JobID: final.ID, Status: "processing", Message: "started"})
	})
	mux.HandleFunc("GET /job-status/{id}", func(w http.ResponseWriter, r *http.Request) {
		job := jobs.Job{ID: final.ID, Status: jobs.StatusProcessing, Progress: 0.3, Message: "Searching..."}
		if polls.Add(1) > 1 {
			job = final
		}
		_ = json.NewEncoder(w).Encode(job)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRunSubmitRendersReport(t *testing.T) {
	final := jobs.Job{ID: "j1", Status: jobs.StatusCompleted, Progress: 1, Message: "Report completed",
		Result: &core.Report{Topic: "Solar energy trends", Content: "# Solar energy trends"}}
	ts := fakeAPI(t, final)
	c := &client{base: ts.URL, apiKey: "k", http: ts.Client()}

	var out bytes.Buffer
	err := runSubmit(context.Background(), c, "Solar energy trends",
		map[string]any{"max_search_depth": "1"}, 5*time.Millisecond, "markdown", &out)
	require.NoError(t, err)
	assert.Equal(t, "# Solar energy trends\n", out.String())
}

func TestRunSubmitFailedJob(t *testing.T) {
	final := jobs.Job{ID: "j1", Status: jobs.StatusFailed, Message: "Error occurred during report generation",
		Error: "search api unavailable"}
	ts := fakeAPI(t, final)
	c := &client{base: ts.URL, apiKey: "k", http: ts.Client()}

	err := runSubmit(context.Background(), c, "Solar energy trends",
		map[string]any{"max_search_depth": "1"}, 5*time.Millisecond, "markdown", &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, "search api unavailable", err.Error())
}

func TestRunSubmitUnauthorized(t *testing.T) {
	ts := fakeAPI(t, jobs.Job{ID: "j1"})
	c := &client{base: ts.URL, apiKey: "wrong", http: ts.Client()}

	err := runSubmit(context.Background(), c, "t", nil, time.Millisecond, "markdown", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 Invalid or missing API Key")
}

func TestRenderFormats(t *testing.T) {
	job := jobs.Job{ID: "j1", Status: jobs.StatusCompleted, Progress: 1,
		Result: &core.Report{Topic: "t", Content: "body"}}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, "yaml", job))
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, "j1", y["job_id"])
	assert.Equal(t, map[string]any{"topic": "t", "content": "body"}, y["report"])

	buf.Reset()
	require.NoError(t, render(&buf, "json", job))
	assert.Contains(t, buf.String(), `"job_id": "j1"`)

	assert.Error(t, render(&buf, "xml", job))
	assert.Error(t, render(&buf, "markdown", jobs.Job{}))
}
