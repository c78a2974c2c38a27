package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	firestore "google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultBaseURL is the public REST endpoint.
	DefaultBaseURL = "https://firestore.googleapis.com/"

	// DefaultDatabase is the database id used when none is configured.
	DefaultDatabase = "(default)"

	listPageSize = 300
)

// Config identifies the remote project.
type Config struct {
	BaseURL   string
	ProjectID string
	Database  string
	APIKey    string
}

// Store is the set of operations the repository layer needs from the
// document store. *Client implements it; tests substitute fakes.
type Store interface {
	RunQuery(ctx context.Context, q Query) ([]Document, error)
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	CreateDocument(ctx context.Context, collection string, fields Fields) (Document, error)
	PatchDocument(ctx context.Context, collection, id string, fields Fields, mask ...string) (Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Client talks to the document store through the Firestore REST client.
// Calls authenticate with the bearer token attached by WithToken, and with
// the API key when one is configured.
type Client struct {
	cfg        Config
	httpClient *http.Client
	svc        *firestore.Service
	svcErr     error
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The default relies on the
// transport's own timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client. A missing project id is not an error here; every
// call reports ErrConfiguration instead so callers can surface it inline.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	authed := &http.Client{
		Transport: &transport{base: base, apiKey: cfg.APIKey, log: c.log},
		Timeout:   c.httpClient.Timeout,
	}
	c.httpClient = authed
	c.svc, c.svcErr = firestore.NewService(context.Background(),
		option.WithHTTPClient(authed),
		option.WithEndpoint(cfg.BaseURL))
	return c
}

type tokenKey struct{}

// WithToken attaches a bearer token used by calls made with the returned context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// transport adds the caller's credentials to every request and logs it.
type transport struct {
	base   http.RoundTripper
	apiKey string
	log    zerolog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if tok := tokenFrom(req.Context()); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if t.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", t.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.log.Debug().
		Str("method", req.Method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Document store request")
	return resp, nil
}

// documents returns the documents service and the parent resource of every
// collection.
func (c *Client) documents() (*firestore.ProjectsDatabasesDocumentsService, string, error) {
	if strings.TrimSpace(c.cfg.ProjectID) == "" {
		return nil, "", ErrConfiguration
	}
	if c.svcErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrConfiguration, c.svcErr)
	}
	parent := fmt.Sprintf("projects/%s/databases/%s/documents", c.cfg.ProjectID, c.cfg.Database)
	return c.svc.Projects.Databases.Documents, parent, nil
}

// RunQuery executes a structured query and returns the matching documents in
// the order the store returned them.
func (c *Client) RunQuery(ctx context.Context, q Query) ([]Document, error) {
	_, parent, err := c.documents()
	if err != nil {
		return nil, err
	}

	results, err := c.runQuery(ctx, parent, &firestore.RunQueryRequest{StructuredQuery: q.structured()})
	if err != nil {
		return nil, fmt.Errorf("RunQuery %s: %w", q.Collection, err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		if r != nil && r.Document != nil {
			docs = append(docs, fromWireDocument(r.Document))
		}
	}

	c.log.Debug().
		Str("collection", q.Collection).
		Int("filters", len(q.Filters)).
		Int("documents", len(docs)).
		Msg("Query completed")

	return docs, nil
}

// runQuery posts the request itself: the endpoint streams a JSON array of
// results, one per document, which the generated call cannot decode.
func (c *Client) runQuery(ctx context.Context, parent string, body *firestore.RunQueryRequest) ([]*firestore.RunQueryResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.svc.BasePath + "v1/" + parent + ":runQuery"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer googleapi.CloseBody(resp)
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, classify(ctx, err)
	}

	var results []*firestore.RunQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, classify(ctx, err)
	}
	return results, nil
}

// ListDocuments returns every document in a collection, following page tokens.
func (c *Client) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	svc, parent, err := c.documents()
	if err != nil {
		return nil, err
	}

	var docs []Document
	err = svc.List(parent, collection).PageSize(listPageSize).Pages(ctx, func(page *firestore.ListDocumentsResponse) error {
		for _, d := range page.Documents {
			docs = append(docs, fromWireDocument(d))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListDocuments %s: %w", collection, classify(ctx, err))
	}
	return docs, nil
}

// CreateDocument stores a new document and returns it with its assigned name.
func (c *Client) CreateDocument(ctx context.Context, collection string, fields Fields) (Document, error) {
	svc, parent, err := c.documents()
	if err != nil {
		return Document{}, err
	}

	doc, err := svc.CreateDocument(parent, collection, &firestore.Document{Fields: fields.wire()}).Context(ctx).Do()
	if err != nil {
		return Document{}, &WriteError{Op: "create", Collection: collection, Err: classify(ctx, err)}
	}
	return fromWireDocument(doc), nil
}

// PatchDocument writes fields to an existing document. Without a mask every
// stored field is replaced; with one only the named fields change.
func (c *Client) PatchDocument(ctx context.Context, collection, id string, fields Fields, mask ...string) (Document, error) {
	svc, parent, err := c.documents()
	if err != nil {
		return Document{}, err
	}

	call := svc.Patch(parent+"/"+collection+"/"+id, &firestore.Document{Fields: fields.wire()})
	if len(mask) > 0 {
		call = call.UpdateMaskFieldPaths(mask...)
	}
	doc, err := call.Context(ctx).Do()
	if err != nil {
		return Document{}, &WriteError{Op: "patch", Collection: collection, ID: id, Err: classify(ctx, err)}
	}
	return fromWireDocument(doc), nil
}

// DeleteDocument removes a document by id.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	svc, parent, err := c.documents()
	if err != nil {
		return err
	}

	if _, err := svc.Delete(parent + "/" + collection + "/" + id).Context(ctx).Do(); err != nil {
		return &WriteError{Op: "delete", Collection: collection, ID: id, Err: classify(ctx, err)}
	}
	return nil
}

// classify maps a client error onto the package taxonomy.
func classify(ctx context.Context, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			// runQuery reports errors inside a one-element array
			msg = strings.TrimSpace(apiErr.Body)
		}
		return &StatusError{StatusCode: apiErr.Code, Message: msg}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ Store = (*Client)(nil)
