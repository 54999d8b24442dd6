package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// RESTCatalog talks to an Iceberg REST catalog.
type RESTCatalog struct {
	uri        string
	prefix     string
	warehouse  string
	client     *http.Client
	credential string
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

// RESTOption configures a RESTCatalog.
type RESTOption func(*RESTCatalog)

// WithWarehouse sets the warehouse query parameter.
func WithWarehouse(warehouse string) RESTOption {
	return func(c *RESTCatalog) {
		c.warehouse = warehouse
	}
}

// WithPrefix sets the path prefix the catalog's config endpoint returned.
func WithPrefix(prefix string) RESTOption {
	return func(c *RESTCatalog) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// WithToken sets the bearer token.
func WithToken(token string) RESTOption {
	return func(c *RESTCatalog) {
		c.token = token
	}
}

// WithCredential sets an OAuth2 client credential ("id:secret"). A token is
// fetched with it before the first request when none was set.
func WithCredential(credential string) RESTOption {
	return func(c *RESTCatalog) {
		c.credential = credential
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(c *RESTCatalog) {
		c.client = client
	}
}

// WithRESTLogger sets the logger.
func WithRESTLogger(logger zerolog.Logger) RESTOption {
	return func(c *RESTCatalog) {
		c.logger = logger
	}
}

// NewRESTCatalog creates a REST catalog client.
func NewRESTCatalog(uri string, opts ...RESTOption) *RESTCatalog {
	c := &RESTCatalog{
		uri:    strings.TrimSuffix(uri, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// restError is the catalog's error response body.
type restError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *RESTCatalog) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" || c.credential == "" {
		return c.token, nil
	}
	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok, nil
}

func (c *RESTCatalog) fetchToken(ctx context.Context) (string, error) {
	const op = "fetch catalog token"
	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"catalog"}}
	id, secret, ok := strings.Cut(c.credential, ":")
	if ok {
		form.Set("client_id", id)
		form.Set("client_secret", secret)
	} else {
		form.Set("client_secret", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uri+"/v1/oauth/tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errkind.Transient(op, err)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := parseResponse(resp, Identifier{}, &token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (c *RESTCatalog) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.uri+path, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.warehouse != "" {
		q := req.URL.Query()
		q.Set("warehouse", c.warehouse)
		req.URL.RawQuery = q.Encode()
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Catalog request")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errkind.Transient("catalog request", err)
	}
	return resp, nil
}

// parseResponse decodes a response and maps error statuses to error
// kinds: 404 is NotFound, 409 a commit conflict, 5xx transient.
func parseResponse[T any](resp *http.Response, ident Identifier, v *T) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Transient("read catalog response", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		var errResp restError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Type + ": " + errResp.Error.Message
		}
		const op = "catalog response"
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errkind.NotFound(op, "table %s: %s", ident, msg)
		case resp.StatusCode == http.StatusConflict:
			return &errkind.CommitConflictError{Table: ident.String(), Cause: errors.New(msg)}
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return errkind.Transient(op, errors.Errorf("status %d: %s", resp.StatusCode, msg))
		}
		return errkind.InvalidInput(op, "status %d: %s", resp.StatusCode, msg)
	}

	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return errkind.Stream("decode catalog response", err)
		}
	}
	return nil
}

func (c *RESTCatalog) namespacePath(ns Namespace) string {
	p := "/v1"
	if c.prefix != "" {
		p += "/" + c.prefix
	}
	return p + "/namespaces/" + url.PathEscape(strings.Join(ns, "\x1f"))
}

func (c *RESTCatalog) tablePath(id Identifier) string {
	return c.namespacePath(id.Namespace) + "/tables/" + url.PathEscape(id.Name)
}

type loadTableResult struct {
	MetadataLocation string              `json:"metadata-location"`
	Metadata         *spec.TableMetadata `json:"metadata"`
}

func (r loadTableResult) metadata(ident Identifier) (*spec.TableMetadata, error) {
	if r.Metadata == nil {
		return nil, errkind.NotFound("catalog response", "no metadata for table %s", ident)
	}
	return r.Metadata, nil
}

// CreateTable creates a table with the given schema and partition spec.
func (c *RESTCatalog) CreateTable(ctx context.Context, ident Identifier, schema *spec.Schema, ps spec.PartitionSpec, location string) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"name":           ident.Name,
		"schema":         schema,
		"partition-spec": ps,
		"properties":     map[string]string{"format-version": "2"},
	}
	if location != "" {
		body["location"] = location
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.namespacePath(ident.Namespace)+"/tables", body)
	if err != nil {
		return nil, err
	}
	var result loadTableResult
	if err := parseResponse(resp, ident, &result); err != nil {
		return nil, err
	}
	return result.metadata(ident)
}

// LoadTable fetches the table's current metadata.
func (c *RESTCatalog) LoadTable(ctx context.Context, ident Identifier) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, http.MethodGet, c.tablePath(ident), nil)
	if err != nil {
		return nil, err
	}
	var result loadTableResult
	if err := parseResponse(resp, ident, &result); err != nil {
		return nil, err
	}
	return result.metadata(ident)
}

// CommitTable posts requirements and updates.
func (c *RESTCatalog) CommitTable(ctx context.Context, ident Identifier, reqs []TableRequirement, updates []TableUpdate) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []TableRequirement{}
	}
	body := map[string]any{
		"identifier": map[string]any{
			"namespace": ident.Namespace,
			"name":      ident.Name,
		},
		"requirements": reqs,
		"updates":      updates,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.tablePath(ident), body)
	if err != nil {
		return nil, err
	}
	var result loadTableResult
	if err := parseResponse(resp, ident, &result); err != nil {
		return nil, err
	}
	return result.metadata(ident)
}
