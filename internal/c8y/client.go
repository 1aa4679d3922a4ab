package c8y

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// CollectionFetcher reads one named collection from the platform.
// This interface is implemented by *Client and can be used for testing.
type CollectionFetcher interface {
	FetchCollection(ctx context.Context, ep Endpoint, req Request) ([]json.RawMessage, error)
}

// Uploader pushes EPL source to the platform.
type Uploader interface {
	UploadEPLFile(ctx context.Context, ep Endpoint, file EPLFile) error
	Ping(ctx context.Context, ep Endpoint) error
}

// Ensure Client implements both interfaces at compile time.
var (
	_ CollectionFetcher = (*Client)(nil)
	_ Uploader          = (*Client)(nil)
)

// Client talks to the Cumulocity REST API.
type Client struct {
	http *resty.Client
}

const (
	defaultUserAgent = "c8yview/0.1"
	requestTimeout   = 10 * time.Second

	eplFilesPath = "service/cep/eplfiles"
	pingPath     = "inventory/managedObjects"
)

// NewClient builds a Client. Endpoints and credentials are supplied per call so
// that every refresh cycle uses the configuration snapshot it started with.
func NewClient() *Client {
	r := resty.New()
	r.SetTimeout(requestTimeout)
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", defaultUserAgent)
	return &Client{http: r}
}

// FetchCollection issues a single GET for req and returns the elements of the
// named array field. Any network, HTTP or body shape failure is a *TransportError.
func (c *Client) FetchCollection(ctx context.Context, ep Endpoint, req Request) ([]json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	target, err := resolve(ep.BaseURL, req.Path)
	if err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: req.Path, Err: err}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(ep.User, ep.Password).
		SetQueryParamsFromValues(req.Query).
		Get(target.String())
	if err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: target.Redacted(), Err: fmt.Errorf("execute request: %w", err)}
	}
	if !resp.IsSuccess() {
		return nil, &TransportError{Op: http.MethodGet, URL: target.Redacted(), Status: resp.StatusCode()}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: target.Redacted(), Err: fmt.Errorf("decode response: %w", err)}
	}
	field, ok := envelope[req.Field]
	if !ok {
		return nil, &TransportError{Op: http.MethodGet, URL: target.Redacted(), Err: fmt.Errorf("response has no %q field", req.Field)}
	}
	var records []json.RawMessage
	if err := json.Unmarshal(field, &records); err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: target.Redacted(), Err: fmt.Errorf("decode %q: %w", req.Field, err)}
	}
	return records, nil
}

// UploadEPLFile creates an active EPL application from file.
func (c *Client) UploadEPLFile(ctx context.Context, ep Endpoint, file EPLFile) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	target, err := resolve(ep.BaseURL, eplFilesPath)
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: eplFilesPath, Err: err}
	}
	if file.State == "" {
		file.State = StateActive
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(ep.User, ep.Password).
		SetHeader("Content-Type", "application/json").
		SetBody(file).
		Post(target.String())
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: target.Redacted(), Err: fmt.Errorf("execute request: %w", err)}
	}
	if !resp.IsSuccess() {
		return &TransportError{Op: http.MethodPost, URL: target.Redacted(), Status: resp.StatusCode(), Body: summarize(resp.Body())}
	}
	return nil
}

// Ping checks that the tenant is reachable with the given credentials.
func (c *Client) Ping(ctx context.Context, ep Endpoint) error {
	query := url.Values{}
	query.Set("pageSize", "1")
	_, err := c.FetchCollection(ctx, ep, Request{Path: pingPath, Query: query, Field: "managedObjects"})
	return err
}

func resolve(baseURL, path string) (*url.URL, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("base url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawQuery = ""
	base.Fragment = ""
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")}), nil
}

func summarize(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		text = text[:limit] + "…"
	}
	return text
}
