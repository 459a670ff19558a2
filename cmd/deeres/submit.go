package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"github.com/mohammad-safakhou/deeres/internal/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func submitCMD() *cobra.Command {
	var (
		serverURL string
		apiKey    string
		output    string
		interval  time.Duration
		set       map[string]string
	)
	submit := &cobra.Command{
		Use:   "submit <topic>",
		Short: "Submit a report request and wait for the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &client{base: strings.TrimRight(serverURL, "/"), apiKey: apiKey, http: &http.Client{Timeout: 30 * time.Second}}
			overrides := make(map[string]any, len(set))
			for k, v := range set {
				overrides[k] = v
			}
			return runSubmit(cmd.Context(), c, strings.Join(args, " "), overrides, interval, output, cmd.OutOrStdout())
		},
	}
	submit.Flags().StringVar(&serverURL, "server", getenv("DEERES_SERVER", "http://localhost:8000"), "server base URL")
	submit.Flags().StringVar(&apiKey, "api-key", os.Getenv("DEERES_API_KEY"), "API key (default $DEERES_API_KEY)")
	submit.Flags().StringVarP(&output, "output", "o", "markdown", "output format: markdown, yaml or json")
	submit.Flags().DurationVar(&interval, "interval", 2*time.Second, "status poll interval")
	submit.Flags().StringToStringVar(&set, "set", nil, "config override key=value, repeatable")
	return submit
}

func runSubmit(ctx context.Context, c *client, topic string, overrides map[string]any, interval time.Duration, output string, w io.Writer) error {
	ack, err := c.submit(ctx, server.GenerateReportRequest{Topic: topic, ConfigOverrides: overrides})
	if err != nil {
		return err
	}
	info := color.New(color.FgCyan)
	info.Fprintf(os.Stderr, "job %s: %s\n", ack.JobID, ack.Message)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		job, err := c.status(ctx, ack.JobID)
		if err != nil {
			return err
		}
		if line := fmt.Sprintf("[%3.0f%%] %s", job.Progress*100, job.Message); line != last {
			info.Fprintln(os.Stderr, line)
			last = line
		}
		switch job.Status {
		case jobs.StatusFailed:
			color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "failed: %s\n", job.Error)
			return errors.New(job.Error)
		case jobs.StatusCompleted:
			color.New(color.FgGreen, color.Bold).Fprintln(os.Stderr, "done")
			return render(w, output, job)
		}
	}
}

func render(w io.Writer, format string, job jobs.Job) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(job)
	case "markdown", "":
		if job.Result == nil {
			return errors.New("completed job has no report")
		}
		_, err := fmt.Fprintln(w, job.Result.Content)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) submit(ctx context.Context, req server.GenerateReportRequest) (server.GenerateReportResponse, error) {
	var out server.GenerateReportResponse
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/generate-report", bytes.NewReader(body), &out)
	return out, err
}

func (c *client) status(ctx context.Context, id string) (jobs.Job, error) {
	var out jobs.Job
	err := c.do(ctx, http.MethodGet, "/job-status/"+id, nil, &out)
	return out, err
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var he server.HTTPError
		_ = json.NewDecoder(resp.Body).Decode(&he)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, he.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
