// Package mdai is a small client for the md.ai annotation import API.
package mdai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/carbocation/segupload"
	"github.com/carbocation/segupload/annotation"
	"golang.org/x/net/context/ctxhttp"
)

const (
	// TokenEnv is the environment variable holding the md.ai access token.
	TokenEnv = "MDAI_TOKEN"

	importPath   = "/api/data-import/annotations"
	progressPath = "/api/data-import/annotations/progress"

	DefaultPollInterval = 5 * time.Second
	DefaultChunkSize    = 100000
)

// Client talks to one md.ai domain with one access token. It is safe to reuse
// for the life of the process.
type Client struct {
	Domain       string
	AccessToken  string
	HTTPClient   *http.Client
	PollInterval time.Duration
	ChunkSize    int

	baseURL string
}

var _ annotation.Importer = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.PollInterval = d }
}

func WithChunkSize(n int) Option {
	return func(c *Client) { c.ChunkSize = n }
}

// NewClient returns a client for domain (e.g. "company.md.ai"). A domain that
// already carries an http:// or https:// scheme is used as the base URL
// verbatim.
func NewClient(domain, accessToken string, opts ...Option) (*Client, error) {
	if domain == "" {
		return nil, &segupload.ConfigurationError{Field: "mdai_domain", Err: fmt.Errorf("domain is empty")}
	}
	if accessToken == "" {
		return nil, &segupload.ConfigurationError{Field: TokenEnv, Err: fmt.Errorf("access token is empty")}
	}

	c := &Client{
		Domain:       domain,
		AccessToken:  accessToken,
		HTTPClient:   &http.Client{Timeout: 5 * time.Minute},
		PollInterval: DefaultPollInterval,
		ChunkSize:    DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.baseURL = strings.TrimSuffix(domain, "/")
	if !strings.HasPrefix(c.baseURL, "http://") && !strings.HasPrefix(c.baseURL, "https://") {
		c.baseURL = "https://" + c.baseURL
	}

	if c.ChunkSize < 1 {
		c.ChunkSize = DefaultChunkSize
	}

	return c, nil
}

// AccessTokenFromEnv reads the md.ai access token from MDAI_TOKEN.
func AccessTokenFromEnv() (string, error) {
	token := strings.TrimSpace(os.Getenv(TokenEnv))
	if token == "" {
		return "", &segupload.ConfigurationError{Field: TokenEnv, Err: fmt.Errorf("set the %s environment variable to your md.ai access token", TokenEnv)}
	}

	return token, nil
}

type importRequest struct {
	ProjectHashID string              `json:"projectHashId"`
	DatasetHashID string              `json:"datasetHashId"`
	Annotations   []annotation.Record `json:"annotations"`
}

type importResponse struct {
	JobID             string            `json:"jobId"`
	FailedAnnotations []json.RawMessage `json:"failedAnnotations"`
}

type progressRequest struct {
	JobID string `json:"jobId"`
}

type progressResponse struct {
	Status            string            `json:"status"`
	Progress          float64           `json:"progress"`
	Error             string            `json:"error"`
	FailedAnnotations []json.RawMessage `json:"failedAnnotations"`
}

// ImportAnnotations submits records to the project and dataset, waits for
// each import job to finish, and returns the annotations md.ai rejected.
// Failure indexes refer to positions in records.
func (c *Client) ImportAnnotations(ctx context.Context, records []annotation.Record, projectID, datasetID string) ([]annotation.Failure, error) {
	failures := make([]annotation.Failure, 0)

	for start := 0; start < len(records); start += c.ChunkSize {
		end := start + c.ChunkSize
		if end > len(records) {
			end = len(records)
		}

		log.Printf("Importing annotations %d-%d of %d into project %s dataset %s\n", start+1, end, len(records), projectID, datasetID)

		chunkFailures, err := c.importChunk(ctx, records[start:end], projectID, datasetID)
		if err != nil {
			return failures, err
		}

		for _, f := range chunkFailures {
			if f.Index >= 0 {
				f.Index += start
			}
			failures = append(failures, f)
		}
	}

	return failures, nil
}

func (c *Client) importChunk(ctx context.Context, records []annotation.Record, projectID, datasetID string) ([]annotation.Failure, error) {
	var resp importResponse
	status, err := c.post(ctx, importPath, importRequest{
		ProjectHashID: projectID,
		DatasetHashID: datasetID,
		Annotations:   records,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.JobID != "":
		return c.waitForJob(ctx, resp.JobID)
	case status == http.StatusOK:
		// Small imports may be processed synchronously
		return parseFailures(resp.FailedAnnotations), nil
	}

	// Anything else was accepted for later processing, and without a jobId
	// there is no way to learn its outcome
	return nil, &StatusError{Path: importPath, StatusCode: status, Body: "response carries no jobId to poll"}
}

func (c *Client) waitForJob(ctx context.Context, jobID string) ([]annotation.Failure, error) {
	for {
		var progress progressResponse
		if _, err := c.post(ctx, progressPath, progressRequest{JobID: jobID}, &progress); err != nil {
			return nil, err
		}

		switch strings.ToUpper(progress.Status) {
		case "DONE", "COMPLETED", "SUCCESS":
			return parseFailures(progress.FailedAnnotations), nil
		case "ERROR", "FAILED":
			return nil, fmt.Errorf("md.ai import job %s failed: %s", jobID, progress.Error)
		}

		log.Printf("Import job %s: %s (%.0f%%)\n", jobID, progress.Status, progress.Progress)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// parseFailures accepts either bare annotations or objects carrying an
// index, the rejected annotation and a reason.
func parseFailures(raw []json.RawMessage) []annotation.Failure {
	out := make([]annotation.Failure, 0, len(raw))
	for _, entry := range raw {
		f := annotation.Failure{Index: -1, Record: entry}

		var detail struct {
			Index      *int            `json:"index"`
			Annotation json.RawMessage `json:"annotation"`
			Reason     string          `json:"reason"`
			Error      string          `json:"error"`
		}
		if err := json.Unmarshal(entry, &detail); err == nil {
			if detail.Index != nil {
				f.Index = *detail.Index
			}
			if len(detail.Annotation) > 0 {
				f.Record = detail.Annotation
			}
			f.Reason = detail.Reason
			if f.Reason == "" {
				f.Reason = detail.Error
			}
		}

		out = append(out, f)
	}

	return out
}

// post sends body as JSON and decodes a 2xx response into out, returning the
// response status.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, pfx.Err(err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, pfx.Err(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-access-token", c.AccessToken)

	resp, err := ctxhttp.Do(ctx, c.HTTPClient, req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, pfx.Err(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, pfx.Err(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: excerpt(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 || out == nil {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: decoding response: %w", path, err)
	}

	return resp.StatusCode, nil
}

// StatusError is returned for non-2xx responses, and for an accepted import
// that names no job to poll.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("md.ai %s returned %d %s: %s", e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func excerpt(b []byte) string {
	const limit = 512

	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}

	return s
}
