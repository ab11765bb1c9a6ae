package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability/tracing"
	"github.com/smallbiznis/catalog/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultTimeout         = 5 * time.Second
	DefaultMaxResponseSize = 10 * 1024 * 1024
	UserAgent              = "catalog-service/1.0"
)

type Params struct {
	fx.In

	Config  config.Config
	Limiter *ratelimit.UpstreamLimiter `optional:"true"`
	Clock   clock.Clock
	Log     *zap.Logger
}

// Client reads the remote catalog over HTTP. It never retries.
type Client struct {
	http     *http.Client
	baseURL  string
	timeout  time.Duration
	maxBytes int64
	limiter  *ratelimit.UpstreamLimiter
	clock    clock.Clock
	log      *zap.Logger
}

func New(p Params) *Client {
	cfg := p.Config.Upstream
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseSize
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		timeout:  timeout,
		maxBytes: maxBytes,
		limiter:  p.Limiter,
		clock:    c,
		log:      p.Log.Named("catalog.upstream"),
	}
}

func (c *Client) List(ctx context.Context) ([]domain.Item, error) {
	body, err := c.get(ctx, "list", c.baseURL)
	if err != nil {
		return nil, err
	}

	var products []productDTO
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, &Error{Op: "list", URL: c.baseURL, Reason: ReasonDecode, Err: err}
	}
	if products == nil {
		return nil, &Error{Op: "list", URL: c.baseURL, Reason: ReasonDecode, Err: fmt.Errorf("null body")}
	}

	observed := c.clock.Now()
	items := make([]domain.Item, 0, len(products))
	for _, p := range products {
		if p.ID <= 0 {
			c.log.Debug("skipping upstream product without id")
			continue
		}
		items = append(items, p.toItem(observed))
	}
	return items, nil
}

// Get treats a JSON null body as not found; the remote answers 200 null for
// unknown ids.
func (c *Client) Get(ctx context.Context, externalID int64) (*domain.Item, error) {
	url := c.baseURL + "/" + strconv.FormatInt(externalID, 10)
	body, err := c.get(ctx, "get", url)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &Error{Op: "get", URL: url, Reason: ReasonNotFound}
	}

	var p productDTO
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &Error{Op: "get", URL: url, Reason: ReasonDecode, Err: err}
	}
	if p.ID != externalID {
		return nil, &Error{Op: "get", URL: url, Reason: ReasonDecode, Err: fmt.Errorf("id mismatch: got %d", p.ID)}
	}
	item := p.toItem(c.clock.Now())
	return &item, nil
}

func (c *Client) get(ctx context.Context, op, url string) (body []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "catalog.upstream."+op)
	defer func() { tracing.EndSpan(span, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(op, url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transportError(op, url, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	span.SetAttributes(tracing.SafeAttributes(attribute.Int("catalog.upstream_status", resp.StatusCode))...)
	if resp.StatusCode != http.StatusOK {
		reason := ReasonStatus
		if resp.StatusCode == http.StatusNotFound {
			reason = ReasonNotFound
		}
		return nil, &Error{Op: op, URL: url, StatusCode: resp.StatusCode, Reason: reason}
	}
	if resp.ContentLength > c.maxBytes {
		return nil, &Error{Op: op, URL: url, Reason: ReasonTooLarge}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, transportError(op, url, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &Error{Op: op, URL: url, Reason: ReasonTooLarge}
	}
	return body, nil
}

var _ domain.Upstream = (*Client)(nil)
