// Package querysvcctl implements the operator CLI against the query-service
// HTTP API.
package querysvcctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	ClientID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querysvcctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "query-service API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	clientID := fs.String("client-id", defaults.ClientID, "Client ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	sqlText := fs.String("sql", "", "SQL text for the exec command")
	datasource := fs.String("datasource", "", "datasource id for the exec command")
	paramsJSON := fs.String("params", "", "JSON object of named parameters for exec")
	priority := fs.String("priority", "", "priority for exec: HIGH|NORMAL|LOW")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "queries":
		method, path = http.MethodGet, "/v1/queries"
	case "query":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "query requires a saved-query id")
			return 2
		}
		method, path = http.MethodGet, "/v1/queries/"+url.PathEscape(fs.Arg(1))
	case "delete-query":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "delete-query requires a saved-query id")
			return 2
		}
		method, path = http.MethodDelete, "/v1/queries/"+url.PathEscape(fs.Arg(1))
	case "pool-stats":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "pool-stats requires a datasource id")
			return 2
		}
		method, path = http.MethodGet, "/v1/pools/"+url.PathEscape(fs.Arg(1))+"/stats"
	case "exec":
		if strings.TrimSpace(*sqlText) == "" || strings.TrimSpace(*datasource) == "" {
			_, _ = fmt.Fprintln(stderr, "exec requires -sql and -datasource")
			return 2
		}
		payload, err := execPayload(*sqlText, *datasource, *paramsJSON, *priority)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
			return 2
		}
		method, path, body = http.MethodPost, "/v1/queries/execute", payload
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, *clientID, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func execPayload(sqlText, datasource, paramsJSON, priority string) ([]byte, error) {
	request := map[string]any{
		"sql":          sqlText,
		"datasourceId": datasource,
	}
	if strings.TrimSpace(paramsJSON) != "" {
		var parameters map[string]any
		if err := json.Unmarshal([]byte(paramsJSON), &parameters); err != nil {
			return nil, fmt.Errorf("invalid -params JSON: %w", err)
		}
		request["parameters"] = parameters
	}
	if strings.TrimSpace(priority) != "" {
		request["priority"] = strings.ToUpper(strings.TrimSpace(priority))
	}
	return json.Marshal(request)
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, clientID string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(clientID) != "" {
		req.Header.Set("X-Client-ID", strings.TrimSpace(clientID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querysvcctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                  GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                   GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  queries                 GET /v1/queries")
	_, _ = fmt.Fprintln(w, "  query <id>              GET /v1/queries/{id}")
	_, _ = fmt.Fprintln(w, "  delete-query <id>       DELETE /v1/queries/{id}")
	_, _ = fmt.Fprintln(w, "  pool-stats <datasource> GET /v1/pools/{datasource}/stats")
	_, _ = fmt.Fprintln(w, "  exec -sql ... -datasource ... [-params JSON] [-priority P]")
	_, _ = fmt.Fprintln(w, "                          POST /v1/queries/execute")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
