// Package integration provides a reusable test harness for end-to-end
// testing of the grantflow case server. It starts a full HTTP server with a
// test JWT issuer, an in-memory case store, and an optional miniredis-backed
// notification broker.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/casefold/grantflow/internal/casework"
	"github.com/casefold/grantflow/internal/config"
	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/internal/notify"
	"github.com/casefold/grantflow/internal/observability"
	"github.com/casefold/grantflow/internal/transport"
	"github.com/casefold/grantflow/model"
)

// TestHarness encapsulates a fully wired grantflow instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry  *definition.Registry
	CaseStore *casework.MemoryCaseStore
	Engine    *casework.Engine

	// MemoryPublisher is set unless WithRedisNotifications was used.
	MemoryPublisher *notify.MemoryPublisher
	// Redis is set only when WithRedisNotifications was used.
	Redis       *miniredis.Miniredis
	redisClient *redis.Client
	channel     string

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	handlerTimeout time.Duration
	redisEnabled   bool
	channel        string
}

// WithDefinitions sets the definition directories to load. Relative paths
// are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithRedisNotifications publishes status-changed payloads to a
// miniredis-backed broker instead of the in-memory recorder.
func WithRedisNotifications(channel string) HarnessOption {
	return func(c *harnessConfig) {
		c.redisEnabled = true
		c.channel = channel
	}
}

// NewTestHarness creates and starts a full grantflow test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		channel:        notify.DefaultChannel,
	}
	for _, opt := range opts {
		opt(hc)
	}

	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdataDir(), "definitions")}
	}

	h := &TestHarness{t: t, channel: hc.channel}

	// Load and validate workflow definitions.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	validator := definition.NewValidator()
	if verrs := validator.Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Case store and notification publisher.
	h.CaseStore = casework.NewMemoryCaseStore()

	var publisher notify.Publisher
	if hc.redisEnabled {
		h.Redis = miniredis.RunT(t)
		h.redisClient = redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { h.redisClient.Close() })
		publisher = notify.NewRedisPublisher(h.redisClient, hc.channel)
	} else {
		h.MemoryPublisher = notify.NewMemoryPublisher()
		publisher = h.MemoryPublisher
	}

	h.Engine = casework.NewEngine(h.Registry, h.CaseStore, publisher, zap.NewNop())

	// JWT issuer and configuration.
	h.issuer = newTokenIssuer(t)

	h.cfg = &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			HandlerTimeout: hc.handlerTimeout,
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: config.IdentityConfig{
			Issuer:     h.issuer.Issuer(),
			Audience:   h.issuer.Audience(),
			JWKSURL:    h.issuer.JWKSURL(),
			Algorithms: []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"name":       "name",
				"roles":      "roles",
				"app_roles":  "app_roles",
			},
		},
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Engine:       h.Engine,
		Registry:     h.Registry,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Registry.AllWorkflows()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() { h.server.Close() })

	return h
}

// testdataDir resolves the testdata directory next to this source file.
func testdataDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "testdata")
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// SubscribeNotifications subscribes to the status-changed channel and
// returns the message stream. Only valid with WithRedisNotifications.
func (h *TestHarness) SubscribeNotifications() <-chan *redis.Message {
	h.t.Helper()
	if h.redisClient == nil {
		h.t.Fatal("harness was not built with WithRedisNotifications")
	}
	sub := h.redisClient.Subscribe(context.Background(), h.channel)
	h.t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		h.t.Fatalf("subscribe: %v", err)
	}
	return sub.Channel()
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// GETWithHeaders performs an authenticated GET request with extra headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response %q: %v", string(data), err)
	}
}

// ParseCase decodes a case instance from the response body.
func (h *TestHarness) ParseCase(resp *http.Response) model.CaseInstance {
	h.t.Helper()
	var c model.CaseInstance
	h.ParseJSON(resp, &c)
	return c
}

// ErrorCode decodes the error envelope code from the response body.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var envelope struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.ParseJSON(resp, &envelope)
	return envelope.Error.Code
}
