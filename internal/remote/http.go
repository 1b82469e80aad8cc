package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loamdev/loam/internal/errors"
)

const defaultHTTPTimeout = 15 * time.Second

// HTTPGateway talks to a remote document API over JSON. Filters are
// encoded in the query string (`field=eq.value`, `field=not.null`),
// ordering as `order=field.asc|desc`, pagination as limit/offset.
type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway for baseURL. token may be empty;
// httpClient may be nil for a default with a request timeout.
func NewHTTPGateway(baseURL, token string, httpClient *http.Client) *HTTPGateway {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// List implements Gateway.
func (g *HTTPGateway) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	values := url.Values{}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq:
			values.Set(f.Field, "eq."+filterValue(f.Value))
		case OpNotNull:
			values.Set(f.Field, "not.null")
		}
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		values.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", fmt.Sprintf("%d", q.Offset))
	}

	requestPath := fmt.Sprintf("/v1/%s", url.PathEscape(collection))
	if enc := values.Encode(); enc != "" {
		requestPath += "?" + enc
	}

	var out []Document
	if err := g.doJSON(ctx, http.MethodGet, requestPath, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get implements Gateway.
func (g *HTTPGateway) Get(ctx context.Context, collection, id string) (Document, error) {
	var out Document
	if err := g.doJSON(ctx, http.MethodGet, documentPath(collection, id), id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create implements Gateway.
func (g *HTTPGateway) Create(ctx context.Context, collection, id string, fields Document) (Document, error) {
	var out Document
	if err := g.doJSON(ctx, http.MethodPost, documentPath(collection, id), id, fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update implements Gateway. PATCH carries only the changed fields.
func (g *HTTPGateway) Update(ctx context.Context, collection, id string, fields Document) (Document, error) {
	var out Document
	if err := g.doJSON(ctx, http.MethodPatch, documentPath(collection, id), id, fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete implements Gateway.
func (g *HTTPGateway) Delete(ctx context.Context, collection, id string) error {
	return g.doJSON(ctx, http.MethodDelete, documentPath(collection, id), id, nil, nil)
}

// Close implements Gateway.
func (g *HTTPGateway) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func documentPath(collection, id string) string {
	return fmt.Sprintf("/v1/%s/%s", url.PathEscape(collection), url.PathEscape(id))
}

// filterValue renders a filter value for the query string.
func filterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// doJSON performs one request and decodes the JSON response into out.
// No retries: retry policy belongs to the caller's reconciliation, not
// the transport.
func (g *HTTPGateway) doJSON(ctx context.Context, method, requestPath, id string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternal(err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+requestPath, bodyReader)
	if err != nil {
		return errors.NewInternal(err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkFailure(err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return errors.NewNetworkFailure(readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return errors.NewNetworkFailure(fmt.Errorf("malformed response: %w", err))
		}
		return nil
	}

	if resp.StatusCode == http.StatusNotFound {
		collection := strings.TrimPrefix(requestPath, "/v1/")
		if i := strings.IndexByte(collection, '/'); i > 0 {
			collection = collection[:i]
		}
		return errors.NewNotFound(collection, id)
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	msg := errPayload.Message
	if msg == "" {
		msg = strings.TrimSpace(string(payload))
	}
	return errors.NewNetworkFailure(fmt.Errorf("http %d: %s", resp.StatusCode, msg))
}
