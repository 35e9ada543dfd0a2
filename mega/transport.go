package mega

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Transport implements C3: a retryable JSON-batch POST to the `cs` endpoint
// plus a streaming ranged GET, both driven by a single capability — any
// caller with an *http.Client-compatible backing transport works (spec §4.3
// calls this out explicitly as swappable).
//
// Retry policy is a single unified counter and backoff sequence across
// network errors, non-2xx responses, timeouts, and the body-level EAGAIN
// (-3) signal, per spec §4.3 — so the library's own internal retry loop is
// disabled (RetryMax: 0) and retryablehttp is used only for its
// rewindable-request plumbing and leveled-logger hook, the way
// rescale-labs-Rescale_Interlink wires retryablehttp through its API client.
type Transport struct {
	client    *retryablehttp.Client
	apiURL    string
	sid       []byte
	idCounter uint64
	cfg       Config
	log       zerolog.Logger
}

// NewTransport builds a Transport from a Config. The returned Transport owns
// its own *http.Client; proxy_mode/proxies (spec §6) are applied to its
// underlying transport.
func NewTransport(cfg Config, log zerolog.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	proxyFn, err := newProxyFunc(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: proxyFn,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 64,
		},
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = 0
	rc.Logger = &retryableLogAdapter{log: log}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	return &Transport{
		client: rc,
		apiURL: apiURL,
		cfg:    cfg,
		log:    log,
	}, nil
}

// SetSessionID attaches a session id to subsequent batch requests. Unused by
// the anonymous public-link core, retained because the transport is meant to
// be capability-complete (spec §4.3: "The session id (sid) is included on
// the URL when present (not used in the public-link core)").
func (t *Transport) SetSessionID(sid []byte) {
	t.sid = sid
}

// PostBatch sends requests (pre-marshaled as a single JSON array, one
// element per message) to the `cs` endpoint. folderID, if non-empty, is
// attached as the `n` query parameter (spec §4.2: "?n=<folder_id>" for
// FetchNodes and for Download within a folder tree). Returns the raw decoded
// JSON array response body for the caller to unmarshal per-message.
func (t *Transport) PostBatch(ctx context.Context, folderID string, body []byte) (json.RawMessage, error) {
	delay := t.cfg.MinRetryDelay
	var lastErr error

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			t.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("mega: retrying cs request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > t.cfg.MaxRetryDelay {
				delay = t.cfg.MaxRetryDelay
			}
		}

		raw, retry, err := t.postBatchOnce(ctx, folderID, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", EMAXRETRIES, lastErr)
}

// postBatchOnce performs a single attempt. The bool return indicates whether
// the caller should retry (network error, non-2xx, or body code -3).
func (t *Transport) postBatchOnce(ctx context.Context, folderID string, body []byte) (json.RawMessage, bool, error) {
	id := atomic.AddUint64(&t.idCounter, 1)
	reqURL := t.buildCSURL(id, folderID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", EBADRESP, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading response body: %v", EBADRESP, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, true, fmt.Errorf("%w: http status %s", EBADRESP, resp.Status)
	}

	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 {
		return nil, true, fmt.Errorf("%w: empty response body", EBADRESP)
	}

	if trimmed[0] != '[' {
		code, convErr := strconv.Atoi(string(trimmed))
		if convErr != nil {
			return nil, false, fmt.Errorf("%w: non-array, non-integer body %q", EBADRESP, trimmed)
		}
		if code == eagain {
			return nil, true, fmt.Errorf("%w: eagain", EBADRESP)
		}
		return nil, false, parseAPICode(code)
	}

	return json.RawMessage(trimmed), false, nil
}

func (t *Transport) buildCSURL(id uint64, folderID string) string {
	var b strings.Builder
	b.WriteString(t.apiURL)
	b.WriteString("?id=")
	b.WriteString(strconv.FormatUint(id, 10))
	if len(t.sid) > 0 {
		b.WriteString("&sid=")
		b.WriteString(url.QueryEscape(string(t.sid)))
	}
	if folderID != "" {
		b.WriteString("&n=")
		b.WriteString(url.QueryEscape(folderID))
	}
	return b.String()
}

// StreamRange issues a GET to "<baseURL>/<start>-<end>" (spec §6 chunk URL
// grammar) and returns the response body for the caller to read and
// decrypt. The per-range retry budget is owned by the downloader (C6), not
// the transport, since spec §9 requires GET-level and body-read failures to
// share a single counter per range.
func (t *Transport) StreamRange(ctx context.Context, baseURL string, start, end int64) (io.ReadCloser, error) {
	rangeURL := fmt.Sprintf("%s/%d-%d", baseURL, start, end)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rangeURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", EBADRESP, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http status %s", EBADRESP, resp.Status)
	}
	return resp.Body, nil
}

// newProxyFunc builds an http.Transport.Proxy function implementing spec
// §6's proxy_mode (none/single/random over an explicit proxy list), grounded
// on the proxy-selection switch in original_source/src/helpers.rs's
// mega_builder and the proxy-function shape in
// rescale-labs-Rescale_Interlink's internal/http/proxy.go (simplified: no
// bypass-list/NTLM machinery, since the spec doesn't call for it).
func newProxyFunc(cfg Config) (func(*http.Request) (*url.URL, error), error) {
	switch cfg.ProxyMode {
	case ProxyNone, "":
		return nil, nil
	case ProxySingle:
		u, err := url.Parse(cfg.Proxies[0])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy url: %v", EARGS, err)
		}
		return http.ProxyURL(u), nil
	case ProxyRandom:
		proxies := cfg.Proxies
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(proxies[rand.Intn(len(proxies))])
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown proxy_mode %q", EARGS, cfg.ProxyMode)
	}
}

// retryableLogAdapter bridges retryablehttp's LeveledLogger interface to
// zerolog, the way rescale-labs-Rescale_Interlink's retryLogger bridges it
// to the standard logger.
type retryableLogAdapter struct {
	log zerolog.Logger
}

func (a *retryableLogAdapter) Error(msg string, kv ...interface{}) {
	a.log.Error().Fields(kv).Msg(msg)
}

func (a *retryableLogAdapter) Info(msg string, kv ...interface{}) {
	a.log.Debug().Fields(kv).Msg(msg)
}

func (a *retryableLogAdapter) Debug(msg string, kv ...interface{}) {
	a.log.Debug().Fields(kv).Msg(msg)
}

func (a *retryableLogAdapter) Warn(msg string, kv ...interface{}) {
	a.log.Warn().Fields(kv).Msg(msg)
}
