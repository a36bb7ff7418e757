// Package auth implements the stateful login handshake against the
// attendance identity provider: fetch the login page, extract the
// anti-forgery token, submit credentials with redirects suppressed, and
// capture the session cookie.
package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/djahasiel101600/nia-attendance/store"
)

const (
	loginPath = "/Account/Login"

	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// Markers for the heuristic success classification: the server does not
	// expose an explicit result field, so a redirect, the absence of the
	// login form, or the presence of the landing page all count as success.
	loginFormMarker = "Login"
	landingMarker   = "Dashboard"
	formTokenField  = "__RequestVerificationToken"
	formEmployeeID  = "EmployeeID"
	formPassword    = "Password"
	formRememberMe  = "RememberMe"
)

// Artifacts are the session values produced by a successful login. The
// token is consumed by the handshake itself; the cookie string outlives it
// and authenticates subsequent requests.
type Artifacts struct {
	EmployeeID     string
	SessionCookies string
}

// Authenticator performs the two-step login handshake. It is safe for
// concurrent use; concurrent Login calls are serialized so that two
// attempts never interleave their token exchange.
type Authenticator struct {
	authBase  string
	returnURL string
	client    *http.Client
	store     store.Store
	logger    *slog.Logger

	mu sync.Mutex // serializes login attempts and guards memCookies
	// memCookies is a fallback copy of the session cookie for when the
	// durable store is unavailable, mirroring what the store holds.
	memCookies string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient sets the HTTP client used for the handshake. The client's
// redirect policy is overridden: the handshake must inspect raw redirect
// responses rather than follow them.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authenticator) {
		a.client = c
	}
}

// WithLogger sets the structured logger. If not set, a default JSON logger
// writing to stderr is used.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// New creates an Authenticator for the identity provider at authBase.
// returnURL is the post-login destination echoed in the ReturnUrl query
// parameter. Session artifacts are persisted to st.
func New(authBase, returnURL string, st store.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		authBase:  strings.TrimRight(authBase, "/"),
		returnURL: returnURL,
		store:     st,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	// Redirect statuses are a login-success signal and must reach the
	// caller unfollowed.
	a.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Login authenticates employeeID against the identity provider and, on
// success, persists the identity and session cookie to the credential
// store. The password is sealed in a memguard enclave for the duration of
// the attempt and never persisted. Failures are classified as
// ErrPageUnreachable, ErrTokenNotFound or ErrInvalidCredentials; on
// failure no stored state is modified.
func (a *Authenticator) Login(ctx context.Context, employeeID, password string) (Artifacts, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sealed := memguard.NewEnclave([]byte(password))

	token, err := a.fetchToken(ctx)
	if err != nil {
		return Artifacts{}, err
	}

	cookies, err := a.submit(ctx, token, employeeID, sealed)
	if err != nil {
		return Artifacts{}, err
	}

	if err := a.store.Set(store.KeyEmployeeID, employeeID); err != nil {
		return Artifacts{}, fmt.Errorf("persisting identity: %w", err)
	}
	if cookies != "" {
		if err := a.store.Set(store.KeySessionCookies, cookies); err != nil {
			return Artifacts{}, fmt.Errorf("persisting session cookie: %w", err)
		}
		a.memCookies = cookies
	}

	a.logger.Info("login succeeded", "employee_id", employeeID, "cookie_captured", cookies != "")
	return Artifacts{EmployeeID: employeeID, SessionCookies: cookies}, nil
}

// fetchToken retrieves the login page and extracts the anti-forgery token.
func (a *Authenticator) fetchToken(ctx context.Context) (string, error) {
	pageURL := a.loginURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building login page request: %w", err)
	}
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPageUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrPageUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrPageUnreachable, err)
	}

	token, ok := ExtractToken(string(body))
	if !ok {
		// Surface the raw markup to diagnostics; the caller only sees the
		// sentinel.
		a.logger.Warn("verification token missing from login page", "body_bytes", len(body))
		a.logger.Debug("login page body", "body", string(body))
		return "", ErrTokenNotFound
	}
	return token, nil
}

// submit POSTs the credential form and classifies the response. It returns
// the captured session cookie pairs formatted as a Cookie header value.
func (a *Authenticator) submit(ctx context.Context, token, employeeID string, sealed *memguard.Enclave) (string, error) {
	pw, err := sealed.Open()
	if err != nil {
		return "", fmt.Errorf("unsealing password: %w", err)
	}
	form := url.Values{}
	form.Set(formTokenField, token)
	form.Set(formEmployeeID, employeeID)
	form.Set(formPassword, pw.String())
	form.Set(formRememberMe, "false")
	payload := form.Encode()
	pw.Destroy()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authBase+loginPath, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", a.loginURL())
	req.Header.Set("Origin", a.authBase)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submitting credentials: %v", ErrPageUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading login response: %v", ErrPageUnreachable, err)
	}

	if !loginSucceeded(resp.StatusCode, string(body)) {
		a.logger.Info("login rejected", "employee_id", employeeID, "status", resp.StatusCode)
		return "", ErrInvalidCredentials
	}

	var pairs []string
	for _, c := range resp.Cookies() {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; "), nil
}

// loginSucceeded applies the heuristic success classification: a redirect
// status, a body without the login form, or a body carrying the post-login
// landing page. The upstream service exposes no explicit result field.
func loginSucceeded(status int, body string) bool {
	if status >= 300 && status < 400 {
		return true
	}
	return !strings.Contains(body, loginFormMarker) || strings.Contains(body, landingMarker)
}

// Logout clears the stored identity and session artifacts. It is a no-op
// when nothing is stored.
func (a *Authenticator) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Delete(store.KeyEmployeeID); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	if err := a.store.Delete(store.KeySessionCookies); err != nil {
		return fmt.Errorf("clearing session cookie: %w", err)
	}
	a.memCookies = ""
	return nil
}

// StoredIdentity returns the persisted employee ID, or store.ErrNotFound
// when no identity has been stored.
func (a *Authenticator) StoredIdentity() (string, error) {
	return a.store.Get(store.KeyEmployeeID)
}

// SessionCookies returns the current session cookie value, preferring the
// durable store and falling back to the in-memory copy captured at login.
func (a *Authenticator) SessionCookies() string {
	if v, err := a.store.Get(store.KeySessionCookies); err == nil {
		return v
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memCookies
}

func (a *Authenticator) loginURL() string {
	return a.authBase + loginPath + "?ReturnUrl=" + url.QueryEscape(a.returnURL)
}
