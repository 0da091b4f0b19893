package nocodb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/models"
)

var log = internal.GetLogger()

const DefaultTimeout = 10 * time.Second
const DefaultRetryMax = 3

var _ models.SummarySink = &Client{}

// NewClient returns a NocoDB REST client configured from cfg. The care team
// reads session summaries out of a NocoDB table; the client mirrors rows
// into it.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.NocoDB.APIURL == "" {
		return nil, fmt.Errorf("nocodb api_url is not set")
	}
	baseURL, err := url.Parse(cfg.NocoDB.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid nocodb api_url: %w", err)
	}

	timeout := time.Duration(cfg.NocoDB.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retryMax := cfg.NocoDB.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}

	return &Client{
		httpClient:     newRetryableHTTPClient(retryMax, timeout),
		baseURL:        baseURL,
		apiKey:         cfg.NocoDB.APIKey,
		summariesTable: cfg.NocoDB.SummariesTable,
	}, nil
}

type Client struct {
	httpClient     *http.Client
	baseURL        *url.URL
	apiKey         string
	summariesTable string
}

// UpsertSummary writes a summary row for a session. A new row is created;
// if NocoDB reports the session_id already exists, the row is patched
// instead.
func (c *Client) UpsertSummary(ctx context.Context, record *models.SummarySyncRecord) error {
	if record == nil {
		return fmt.Errorf("nil summary record received")
	}
	if record.SessionID == "" {
		return fmt.Errorf("summary record sessionID cannot be empty")
	}

	statusCode, err := c.do(ctx, http.MethodPost, c.tablePath(), record)
	if err != nil {
		return err
	}
	if statusCode < 300 {
		return nil
	}
	if statusCode != http.StatusConflict {
		return fmt.Errorf("nocodb create summary failed with status %d", statusCode)
	}

	// row already exists, patch it
	log.Debugf("summary row for session %s exists, patching", record.SessionID)
	statusCode, err = c.do(ctx, http.MethodPatch, c.rowPath(record.SessionID), record)
	if err != nil {
		return err
	}
	if statusCode >= 300 {
		return fmt.Errorf("nocodb update summary failed with status %d", statusCode)
	}
	return nil
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	payload any,
) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal nocodb payload: %w", err)
	}

	requestURL := *c.baseURL
	requestURL.Path, err = url.JoinPath(requestURL.Path, path)
	if err != nil {
		return 0, fmt.Errorf("failed to build nocodb url: %w", err)
	}

	request, err := http.NewRequestWithContext(
		ctx,
		method,
		requestURL.String(),
		bytes.NewReader(body),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create nocodb request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("xc-token", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("nocodb request failed: %w", err)
	}
	defer response.Body.Close()

	// drain the body so the connection can be reused
	_, _ = io.Copy(io.Discard, response.Body)

	return response.StatusCode, nil
}

func (c *Client) tablePath() string {
	return c.summariesTable
}

func (c *Client) rowPath(sessionID string) string {
	return c.summariesTable + "/" + url.PathEscape(sessionID)
}

// newRetryableHTTPClient returns a new retryable HTTP client with the given
// retryMax and timeout. The retryable HTTP transport is wrapped in an
// OpenTelemetry transport.
func newRetryableHTTPClient(retryMax int, timeout time.Duration) *http.Client {
	retryableHTTPClient := retryablehttp.NewClient()
	retryableHTTPClient.RetryMax = retryMax
	retryableHTTPClient.HTTPClient.Timeout = timeout
	retryableHTTPClient.Logger = log
	retryableHTTPClient.Backoff = retryablehttp.DefaultBackoff
	retryableHTTPClient.CheckRetry = retryPolicy

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(
			retryableHTTPClient.StandardClient().Transport,
			otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
				return otelhttptrace.NewClientTrace(ctx)
			}),
		),
	}

	return httpClient
}

// retryPolicy does not retry 409s: a conflict is how NocoDB reports that the
// row already exists and the caller should patch instead.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode == http.StatusConflict {
		return false, nil
	}
	shouldRetry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	return shouldRetry, nil
}
