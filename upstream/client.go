// Package upstream is the HTTP client for the operations API that runs
// directory syncs and cluster deployments.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ops-console/domain"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New creates a client for baseURL. token, when set, is sent as a bearer token.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

// StartSync starts a directory sync and returns its job id.
func (c *Client) StartSync(ctx context.Context) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/sync", nil, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("POST /sync: response has no jobId")
	}
	return resp.JobID, nil
}

func (c *Client) SyncStatus(ctx context.Context, jobID string) (domain.SyncStatus, error) {
	var st domain.SyncStatus
	err := c.do(ctx, http.MethodGet, "/sync/"+url.PathEscape(jobID), nil, &st)
	return st, err
}

// StartDeployment requests action on a cluster and returns the deployment id.
func (c *Client) StartDeployment(ctx context.Context, clusterID string, action domain.DeploymentAction) (string, error) {
	body := map[string]string{"action": string(action)}
	var resp struct {
		DeploymentID string `json:"deploymentId"`
	}
	path := "/clusters/" + url.PathEscape(clusterID) + "/deployments"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.DeploymentID == "" {
		return "", fmt.Errorf("POST %s: response has no deploymentId", path)
	}
	return resp.DeploymentID, nil
}

func (c *Client) DeploymentStatus(ctx context.Context, deploymentID string) (domain.DeploymentStatus, error) {
	var st domain.DeploymentStatus
	err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
