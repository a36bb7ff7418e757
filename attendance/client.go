// Package attendance fetches attendance records from the upstream web
// application using the session artifacts captured at login. The wire
// format is a DataTables server-side processing exchange: a form-encoded
// column descriptor payload in, a JSON row page out.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/djahasiel101600/nia-attendance/store"
)

const (
	defaultLength = 50

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// columns are the DataTables column descriptors the server expects, in
// server order. Ordering is fixed on column 1 (DateTimeStamp) descending.
var columns = []string{"Id", "DateTimeStamp", "Temperature", "Name", "EmployeeID", "MachineName"}

// Query selects which page of attendance records to fetch. Zero values
// default to the current year, the current month, and the configured
// record length.
type Query struct {
	Year   int
	Month  time.Month
	Length int
}

// Client issues authenticated attendance queries. It attaches the stored
// session cookie to every request and performs no retries; retry and
// re-authentication policy belong to the caller.
type Client struct {
	baseURL string
	client  *http.Client
	store   store.Store
	logger  *slog.Logger
	length  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for queries.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithDefaultLength sets the record count used when a query does not
// specify one.
func WithDefaultLength(n int) Option {
	return func(cl *Client) {
		cl.length = n
	}
}

// NewClient creates a Client for the attendance application at baseURL,
// reading session artifacts from st.
func NewClient(baseURL string, st store.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   st,
		length:  defaultLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	// An expired session answers with a redirect to the login page; it must
	// surface as ErrUnauthorized, not be followed into an HTML response.
	c.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// indexDataResponse is the raw JSON page returned by the server. Rows keep
// loosely typed fields that vary between server builds.
type indexDataResponse struct {
	Data []struct {
		ID            int64  `json:"Id"`
		DateTimeStamp string `json:"DateTimeStamp"`
		Temperature   any    `json:"Temperature"`
		Name          string `json:"Name"`
		EmployeeID    string `json:"EmployeeID"`
		MachineName   string `json:"MachineName"`
		AccessResult  any    `json:"AccessResult"`
	} `json:"data"`
	RecordsTotal int `json:"recordsTotal"`
}

// Fetch retrieves a page of attendance records for employeeID. A rejected
// session maps to ErrUnauthorized; any other non-success response or a
// malformed payload maps to ErrServerError.
func (c *Client) Fetch(ctx context.Context, employeeID string, q Query) (*Result, error) {
	now := time.Now()
	if q.Year == 0 {
		q.Year = now.Year()
	}
	if q.Month == 0 {
		q.Month = now.Month()
	}
	if q.Length == 0 {
		q.Length = c.length
	}

	body := dataTablesForm(q.Length).Encode()
	resp, err := c.post(ctx, c.indexDataURL(employeeID, q), body)
	if err != nil {
		return nil, fmt.Errorf("fetching attendance data: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrServerError, err)
	}
	var page indexDataResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrServerError, err)
	}

	result := &Result{
		Records:    make([]Record, 0, len(page.Data)),
		TotalCount: page.RecordsTotal,
	}
	for _, row := range page.Data {
		rec := Record{
			ID:           row.ID,
			Temperature:  temperatureValue(row.Temperature),
			EmployeeID:   row.EmployeeID,
			EmployeeName: row.Name,
			MachineName:  row.MachineName,
			Status:       statusFromAccessResult(row.AccessResult),
		}
		ts, err := ParseNetDate(row.DateTimeStamp)
		if err != nil {
			c.logger.Debug("unparseable record timestamp", "id", row.ID, "value", row.DateTimeStamp)
		} else {
			rec.Timestamp = ts
		}
		result.Records = append(result.Records, rec)
	}
	if result.TotalCount == 0 {
		result.TotalCount = len(result.Records)
	}
	return result, nil
}

// Probe issues a minimal authenticated query to check whether the current
// session still has API access. Any transport or server failure reads as
// no access.
func (c *Client) Probe(ctx context.Context, employeeID string) bool {
	resp, err := c.post(ctx, c.indexDataURL(employeeID, Query{Year: time.Now().Year(), Month: time.Now().Month()}), "draw=1&start=0&length=1")
	if err != nil {
		c.logger.Debug("access probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) post(ctx context.Context, target, body string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.baseURL+"/Attendance")
	if cookies := c.sessionCookies(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	return c.client.Do(req)
}

func (c *Client) sessionCookies() string {
	v, err := c.store.Get(store.KeySessionCookies)
	if err != nil {
		return ""
	}
	return v
}

func (c *Client) indexDataURL(employeeID string, q Query) string {
	return fmt.Sprintf("%s/Attendance/IndexData/%d?month=%s&eid=%s",
		c.baseURL, q.Year, url.QueryEscape(q.Month.String()), url.QueryEscape(employeeID))
}

// classifyStatus maps a response status to the fetch error taxonomy.
// Redirects count as unauthorized because an expired session bounces to
// the login page.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status >= 300 && status < 400:
		return fmt.Errorf("%w: redirected to login, status %d", ErrUnauthorized, status)
	default:
		return fmt.Errorf("%w: status %d", ErrServerError, status)
	}
}

// dataTablesForm builds the server-side processing payload the upstream
// endpoint expects.
func dataTablesForm(length int) url.Values {
	v := url.Values{}
	v.Set("draw", "1")
	for i, col := range columns {
		p := fmt.Sprintf("columns[%d]", i)
		v.Set(p+"[data]", col)
		v.Set(p+"[name]", "")
		v.Set(p+"[searchable]", "true")
		v.Set(p+"[orderable]", "true")
		v.Set(p+"[search][value]", "")
		v.Set(p+"[search][regex]", "false")
	}
	v.Set("order[0][column]", "1")
	v.Set("order[0][dir]", "desc")
	v.Set("start", "0")
	v.Set("length", strconv.Itoa(length))
	v.Set("search[value]", "")
	v.Set("search[regex]", "false")
	return v
}
