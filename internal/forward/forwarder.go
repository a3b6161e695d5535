// Package forward performs the outbound call to the partner destination
package forward

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/trackgate/internal/tenant"
)

// ErrUnavailable means the destination produced no response at all
// (transport-level failure). Any received response, whatever its status,
// is a completed forward.
var ErrUnavailable = errors.New("destination unavailable")

const (
	defaultUserAgent = "TrackGate/1.0"
	maxResponseBytes = 1 << 20 // cap what we read back from the destination
)

// Result is a completed forward call
type Result struct {
	TargetURL string
	Status    int
	Body      string
}

// Forwarder builds destination URLs and performs the outbound call under
// the partner's timeouts. Transports are cached per timeout/TLS setting so
// connections to the same destination are pooled across events.
type Forwarder struct {
	mu         sync.Mutex
	transports map[transportKey]*http.Transport
}

type transportKey struct {
	connectTimeout time.Duration
	sslVerify      bool
}

func New() *Forwarder {
	return &Forwarder{transports: make(map[transportKey]*http.Transport)}
}

func (f *Forwarder) transport(cfg *tenant.Config) *http.Transport {
	key := transportKey{connectTimeout: cfg.ConnectTimeout, sslVerify: cfg.SSLVerify}

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[key]; ok {
		return t
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	t := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.SSLVerify},
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	f.transports[key] = t
	return t
}

// BuildTargetURL assembles the destination URL from the partner target
// domain and the forwarded parameter set. A target domain without a scheme
// gets https.
func BuildTargetURL(cfg *tenant.Config, params map[string]string) string {
	base := cfg.TargetDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	return base + "?" + query.Encode()
}

// Forward performs a single outbound GET to the partner destination.
// Timeouts and TLS verification come from the effective configuration.
// Redirects are followed when the configuration says so. The response
// status is propagated verbatim: a 4xx/5xx from the destination is still a
// completed forward, not an error.
func (f *Forwarder) Forward(r *http.Request, cfg *tenant.Config, params map[string]string) (*Result, error) {
	targetURL := BuildTargetURL(cfg, params)

	client := &http.Client{
		Timeout:   cfg.ForwardTimeout,
		Transport: f.transport(cfg),
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	userAgent := r.UserAgent()
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// Headers arrived but the body did not: still a transport failure
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Result{
		TargetURL: targetURL,
		Status:    resp.StatusCode,
		Body:      string(body),
	}, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Snippet strips markup from a response body and truncates it for logs,
// notifications, and export rows. Truncation counts runes, never splitting
// a multi-byte sequence.
func Snippet(body string, maxLen int) string {
	clean := strings.TrimSpace(tagPattern.ReplaceAllString(body, ""))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
