package forward

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/foxzi/trackgate/internal/tenant"
)

func testConfig(targetDomain string) *tenant.Config {
	return &tenant.Config{
		TargetDomain:    targetDomain,
		ForwardTimeout:  2 * time.Second,
		ConnectTimeout:  time.Second,
		SSLVerify:       false,
		FollowRedirects: true,
	}
}

func TestBuildTargetURL(t *testing.T) {
	cfg := testConfig("tracker.example.com")
	got := BuildTargetURL(cfg, map[string]string{"clickid": "c1", "sum": "15"})

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", got, err)
	}
	if u.Scheme != "https" || u.Host != "tracker.example.com" {
		t.Errorf("target = %q, want https://tracker.example.com", got)
	}
	q := u.Query()
	if q.Get("clickid") != "c1" || q.Get("sum") != "15" {
		t.Errorf("query = %q", u.RawQuery)
	}
}

func TestBuildTargetURLKeepsScheme(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:9999")
	got := BuildTargetURL(cfg, map[string]string{"a": "1"})
	if !strings.HasPrefix(got, "http://127.0.0.1:9999?") {
		t.Errorf("target = %q, explicit scheme not preserved", got)
	}
}

func TestForwardPropagatesStatus(t *testing.T) {
	var gotQuery url.Values
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.UserAgent()
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	req := httptest.NewRequest("GET", "/postback", nil)
	req.Header.Set("User-Agent", "curl/8.0")

	res, err := New().Forward(req, testConfig(srv.URL), map[string]string{"clickid": "c1"})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if res.Status != http.StatusTeapot {
		t.Errorf("Status = %d, want %d (destination status propagated verbatim)", res.Status, http.StatusTeapot)
	}
	if res.Body != "short and stout" {
		t.Errorf("Body = %q", res.Body)
	}
	if gotQuery.Get("clickid") != "c1" {
		t.Errorf("destination query = %v", gotQuery)
	}
	if gotUA != "curl/8.0" {
		t.Errorf("User-Agent = %q, want caller UA passed through", gotUA)
	}
}

func TestForwardDefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
	}))
	defer srv.Close()

	req := httptest.NewRequest("GET", "/postback", nil)
	req.Header.Del("User-Agent")

	if _, err := New().Forward(req, testConfig(srv.URL), nil); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if gotUA != defaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, defaultUserAgent)
	}
}

func TestForwardUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens on the address anymore

	req := httptest.NewRequest("GET", "/postback", nil)
	_, err := New().Forward(req, testConfig(srv.URL), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Forward() error = %v, want ErrUnavailable", err)
	}
}

func TestForwardRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landed"))
	}))
	defer final.Close()

	hops := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hops.Close()

	req := httptest.NewRequest("GET", "/postback", nil)

	cfg := testConfig(hops.URL)
	res, err := New().Forward(req, cfg, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if res.Status != http.StatusOK || res.Body != "landed" {
		t.Errorf("redirects enabled: status=%d body=%q, want followed redirect", res.Status, res.Body)
	}

	cfg.FollowRedirects = false
	res, err = New().Forward(req, cfg, nil)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if res.Status != http.StatusFound {
		t.Errorf("redirects disabled: status=%d, want %d", res.Status, http.StatusFound)
	}
}

func TestTransportReuse(t *testing.T) {
	f := New()
	cfg := testConfig("tracker.example.com")

	first := f.transport(cfg)
	if second := f.transport(cfg); second != first {
		t.Error("same settings produced a second transport, connection pool lost")
	}

	strict := testConfig("tracker.example.com")
	strict.SSLVerify = true
	if other := f.transport(strict); other == first {
		t.Error("different TLS settings share a transport")
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		maxLen int
		want   string
	}{
		{"plain", "ok", 150, "ok"},
		{"tags stripped", "<html><body>accepted</body></html>", 150, "accepted"},
		{"truncated", strings.Repeat("x", 200), 150, strings.Repeat("x", 147) + "..."},
		{"whitespace trimmed", "  done \n", 150, "done"},
		{"multibyte kept whole", strings.Repeat("ж", 200), 150, strings.Repeat("ж", 147) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet(tt.body, tt.maxLen)
			if got != tt.want {
				t.Errorf("Snippet() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Snippet() = %q is not valid UTF-8", got)
			}
		})
	}
}
