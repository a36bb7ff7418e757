package attendance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djahasiel101600/nia-attendance/store"
	"github.com/djahasiel101600/nia-attendance/store/memory"
)

func TestParseNetDate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ts, err := ParseNetDate("/Date(1700000000000)/")
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(1700000000000), ts)
	})

	t.Run("negative epoch", func(t *testing.T) {
		ts, err := ParseNetDate("/Date(-1000)/")
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(-1000), ts)
	})

	t.Run("not a date", func(t *testing.T) {
		_, err := ParseNetDate("2023-11-14T22:13:20Z")
		assert.Error(t, err)
	})
}

func TestStatusFromAccessResult(t *testing.T) {
	assert.Equal(t, StatusGranted, statusFromAccessResult(float64(1)))
	assert.Equal(t, StatusGranted, statusFromAccessResult("1"))
	assert.Equal(t, StatusDenied, statusFromAccessResult(float64(0)))
	assert.Equal(t, StatusDenied, statusFromAccessResult(float64(2)))
	assert.Equal(t, StatusDenied, statusFromAccessResult("0"))
	assert.Equal(t, StatusDenied, statusFromAccessResult(nil))
}

func newStoreWithSession(t *testing.T) store.Store {
	t.Helper()
	st := memory.NewStore()
	require.NoError(t, st.Set(store.KeySessionCookies, "sid=xyz"))
	return st
}

func TestFetch(t *testing.T) {
	var gotCookie, gotMonth, gotEID, gotLength string
	r := chi.NewRouter()
	r.Post("/Attendance/IndexData/{year}", func(w http.ResponseWriter, req *http.Request) {
		gotCookie = req.Header.Get("Cookie")
		gotMonth = req.URL.Query().Get("month")
		gotEID = req.URL.Query().Get("eid")
		req.ParseForm()
		gotLength = req.PostForm.Get("length")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [
				{"Id": 2, "DateTimeStamp": "/Date(1700000400000)/", "Temperature": "36.5",
				 "Name": "Jane Doe", "EmployeeID": "E001", "MachineName": "GATE-1", "AccessResult": 1},
				{"Id": 1, "DateTimeStamp": "/Date(1700000000000)/", "Temperature": null,
				 "Name": "Jane Doe", "EmployeeID": "E001", "MachineName": "GATE-2", "AccessResult": 0}
			],
			"recordsTotal": 128
		}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, newStoreWithSession(t))
	result, err := c.Fetch(context.Background(), "E001", Query{Year: 2023, Month: time.November, Length: 25})
	require.NoError(t, err)

	assert.Equal(t, "sid=xyz", gotCookie)
	assert.Equal(t, "November", gotMonth)
	assert.Equal(t, "E001", gotEID)
	assert.Equal(t, "25", gotLength)

	assert.Equal(t, 128, result.TotalCount)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, time.UnixMilli(1700000400000), first.Timestamp)
	require.NotNil(t, first.Temperature)
	assert.Equal(t, 36.5, *first.Temperature)
	assert.Equal(t, "Jane Doe", first.EmployeeName)
	assert.Equal(t, "GATE-1", first.MachineName)
	assert.Equal(t, StatusGranted, first.Status)

	second := result.Records[1]
	assert.Nil(t, second.Temperature)
	assert.Equal(t, StatusDenied, second.Status)
}

func TestFetchDefaults(t *testing.T) {
	var gotYearPath, gotMonth, gotLength string
	r := chi.NewRouter()
	r.Post("/Attendance/IndexData/{year}", func(w http.ResponseWriter, req *http.Request) {
		gotYearPath = chi.URLParam(req, "year")
		gotMonth = req.URL.Query().Get("month")
		req.ParseForm()
		gotLength = req.PostForm.Get("length")
		w.Write([]byte(`{"data": [], "recordsTotal": 0}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, newStoreWithSession(t))
	_, err := c.Fetch(context.Background(), "E001", Query{})
	require.NoError(t, err)

	now := time.Now()
	assert.Equal(t, now.Format("2006"), gotYearPath)
	assert.Equal(t, now.Month().String(), gotMonth)
	assert.Equal(t, "50", gotLength)
}

func TestFetchErrorClassification(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		c := NewClient(srv.URL, memory.NewStore())
		_, err := c.Fetch(context.Background(), "E001", Query{})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("redirect to login", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Location", "/Account/Login")
			w.WriteHeader(http.StatusFound)
		}))
		defer srv.Close()
		c := NewClient(srv.URL, memory.NewStore())
		_, err := c.Fetch(context.Background(), "E001", Query{})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		c := NewClient(srv.URL, memory.NewStore())
		_, err := c.Fetch(context.Background(), "E001", Query{})
		assert.ErrorIs(t, err, ErrServerError)
	})

	t.Run("malformed payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html>not json</html>`))
		}))
		defer srv.Close()
		c := NewClient(srv.URL, memory.NewStore())
		_, err := c.Fetch(context.Background(), "E001", Query{})
		assert.ErrorIs(t, err, ErrServerError)
	})
}

func TestProbe(t *testing.T) {
	t.Run("accessible", func(t *testing.T) {
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.ParseForm()
			gotBody = req.PostForm.Encode()
			w.Write([]byte(`{"data": [], "recordsTotal": 0}`))
		}))
		defer srv.Close()
		c := NewClient(srv.URL, newStoreWithSession(t))
		assert.True(t, c.Probe(context.Background(), "E001"))
		assert.Contains(t, gotBody, "length=1")
	})

	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()
		c := NewClient(srv.URL, newStoreWithSession(t))
		assert.False(t, c.Probe(context.Background(), "E001"))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()
		c := NewClient(srv.URL, newStoreWithSession(t))
		assert.False(t, c.Probe(context.Background(), "E001"))
	})
}

func TestDataTablesForm(t *testing.T) {
	v := dataTablesForm(50)
	assert.Equal(t, "1", v.Get("draw"))
	assert.Equal(t, "Id", v.Get("columns[0][data]"))
	assert.Equal(t, "DateTimeStamp", v.Get("columns[1][data]"))
	assert.Equal(t, "MachineName", v.Get("columns[5][data]"))
	assert.Equal(t, "1", v.Get("order[0][column]"))
	assert.Equal(t, "desc", v.Get("order[0][dir]"))
	assert.Equal(t, "0", v.Get("start"))
	assert.Equal(t, "50", v.Get("length"))
	assert.Equal(t, "false", v.Get("search[regex]"))
}
