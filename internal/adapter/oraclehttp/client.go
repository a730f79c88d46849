// Package oraclehttp implements the optional gate checker interfaces
// against remote scorer services over HTTP.
//
// Verdicts are cached by artifact content digest: a retry that re-verifies
// unchanged output reuses the cached verdict instead of spending checker
// tokens again. A circuit breaker turns a dead checker service into the
// gates' fail-open path rather than a per-task timeout stall.
package oraclehttp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Strob0t/harrier/internal/port/cache"
	"github.com/Strob0t/harrier/internal/port/oracle"
	"github.com/Strob0t/harrier/internal/resilience"
)

const defaultTimeout = 30 * time.Second

// Client talks to a checker service exposing /score, /charter and /audit.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker attaches a circuit breaker to all outgoing calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithCache attaches a verdict cache with the given TTL.
func WithCache(store cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a checker client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// scoreRequest is the body sent to every checker endpoint.
type scoreRequest struct {
	ArtifactPath string `json:"artifact_path"`
	SpecPath     string `json:"spec_path,omitempty"`
}

// ScoreAlignment implements oracle.AlignmentScorer.
func (c *Client) ScoreAlignment(ctx context.Context, artifactPath string) (oracle.AlignmentScore, error) {
	var out oracle.AlignmentScore
	err := c.checkCached(ctx, "/score", scoreRequest{ArtifactPath: artifactPath}, artifactPath, &out)
	return out, err
}

// CheckCharter implements oracle.CharterChecker.
func (c *Client) CheckCharter(ctx context.Context, artifactPath string) (oracle.CharterVerdict, error) {
	var out oracle.CharterVerdict
	err := c.checkCached(ctx, "/charter", scoreRequest{ArtifactPath: artifactPath}, artifactPath, &out)
	return out, err
}

// Audit implements oracle.SpecAuditor.
func (c *Client) Audit(ctx context.Context, artifactPath, specPath string) (oracle.AuditVerdict, error) {
	var out oracle.AuditVerdict
	err := c.checkCached(ctx, "/audit", scoreRequest{ArtifactPath: artifactPath, SpecPath: specPath}, artifactPath, &out)
	return out, err
}

// checkCached resolves the verdict for one endpoint, consulting the digest
// cache first. Uncacheable artifacts (missing file) skip the cache.
func (c *Client) checkCached(ctx context.Context, path string, req scoreRequest, artifactPath string, out any) error {
	key := ""
	if c.cache != nil {
		if digest, ok := artifactDigest(artifactPath); ok {
			key = "oracle:" + path + ":" + digest
			if data, hit, err := c.cache.Get(ctx, key); err == nil && hit {
				return json.Unmarshal(data, out)
			}
		}
	}

	data, err := c.post(ctx, path, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("checker %s: decode verdict: %w", path, err)
	}

	if key != "" {
		_ = c.cache.Set(ctx, key, data, c.cacheTTL)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("checker %s: marshal: %w", path, err)
	}

	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("checker API %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// artifactDigest hashes the artifact file content for cache keying.
func artifactDigest(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}
