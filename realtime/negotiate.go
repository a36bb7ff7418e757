package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/djahasiel101600/nia-attendance/store"
)

// ErrNoConnectionToken indicates no connection token could be obtained
// from either the attendance page or the negotiate endpoint.
var ErrNoConnectionToken = errors.New("connection token unavailable")

// Token encodings observed on the attendance page across server builds.
var pageTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`connectionToken=([^";&]+)`),
	regexp.MustCompile(`SignalR\.ConnectionToken=([^";]+)`),
	regexp.MustCompile(`"ConnectionToken":"([^"]+)"`),
}

// Negotiator obtains a SignalR connection token. It first scrapes the
// attendance page, which embeds a token for the in-page hub client, and
// falls back to the negotiate endpoint.
type Negotiator struct {
	baseURL  string
	hub      string
	protocol string
	client   *http.Client
	store    store.Store
	logger   *slog.Logger
}

// NegotiatorOption configures a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithNegotiatorHTTPClient sets the HTTP client used for negotiation.
func WithNegotiatorHTTPClient(c *http.Client) NegotiatorOption {
	return func(n *Negotiator) {
		n.client = c
	}
}

// WithNegotiatorProtocol sets the SignalR client protocol version.
// Default: "1.5".
func WithNegotiatorProtocol(p string) NegotiatorOption {
	return func(n *Negotiator) {
		n.protocol = p
	}
}

// WithNegotiatorLogger sets the structured logger.
func WithNegotiatorLogger(l *slog.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		n.logger = l
	}
}

// NewNegotiator creates a Negotiator for the attendance application at
// baseURL, monitoring hub. Session cookies are read from st.
func NewNegotiator(baseURL, hub string, st store.Store, opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{
		baseURL:  strings.TrimRight(baseURL, "/"),
		hub:      hub,
		protocol: defaultProtocol,
		store:    st,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.client == nil {
		n.client = &http.Client{Timeout: 15 * time.Second}
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return n
}

// ConnectionToken obtains a connection token, trying the attendance page
// first and the negotiate endpoint second. Returns ErrNoConnectionToken
// when both sources come up empty.
func (n *Negotiator) ConnectionToken(ctx context.Context) (string, error) {
	if tok, err := n.fromPage(ctx); err == nil {
		return tok, nil
	} else {
		n.logger.Debug("page token scrape failed, trying negotiate endpoint", "error", err)
	}
	tok, err := n.fromNegotiate(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoConnectionToken, err)
	}
	return tok, nil
}

func (n *Negotiator) fromPage(ctx context.Context) (string, error) {
	body, err := n.get(ctx, n.baseURL+"/Attendance")
	if err != nil {
		return "", err
	}
	for _, p := range pageTokenPatterns {
		if m := p.FindStringSubmatch(string(body)); m != nil {
			return m[1], nil
		}
	}
	return "", errors.New("no token in attendance page")
}

// negotiateResponse is the negotiate endpoint payload. Some builds return
// the token directly, others only a redirect URL carrying it.
type negotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
	URL             string `json:"Url"`
}

func (n *Negotiator) fromNegotiate(ctx context.Context) (string, error) {
	target := n.baseURL + "/signalr/negotiate?clientProtocol=" + url.QueryEscape(n.protocol) +
		"&connectionData=" + url.QueryEscape(connectionData(n.hub))
	body, err := n.get(ctx, target)
	if err != nil {
		return "", err
	}
	var neg negotiateResponse
	if err := json.Unmarshal(body, &neg); err != nil {
		return "", fmt.Errorf("decoding negotiate response: %w", err)
	}
	if neg.ConnectionToken != "" {
		return neg.ConnectionToken, nil
	}
	if neg.URL != "" {
		if u, err := url.Parse(neg.URL); err == nil {
			if tok := u.Query().Get("connectionToken"); tok != "" {
				return tok, nil
			}
		}
	}
	return "", errors.New("negotiate response carried no token")
}

func (n *Negotiator) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if cookies, err := n.store.Get(store.KeySessionCookies); err == nil && cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
