package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djahasiel101600/nia-attendance/store"
	"github.com/djahasiel101600/nia-attendance/store/memory"
)

func sessionStore(t *testing.T) store.Store {
	t.Helper()
	st := memory.NewStore()
	require.NoError(t, st.Set(store.KeySessionCookies, "sid=xyz"))
	return st
}

func TestConnectionTokenFromPage(t *testing.T) {
	pages := map[string]string{
		"query form":    `<script src="/signalr/connect?connectionToken=page-tok-1&x=y"></script>`,
		"assignment":    `<script>SignalR.ConnectionToken=page-tok-1;</script>`,
		"json embedded": `<script>var cfg = {"ConnectionToken":"page-tok-1"};</script>`,
	}
	for name, page := range pages {
		t.Run(name, func(t *testing.T) {
			var gotCookie string
			r := chi.NewRouter()
			r.Get("/Attendance", func(w http.ResponseWriter, req *http.Request) {
				gotCookie = req.Header.Get("Cookie")
				w.Write([]byte(page))
			})
			srv := httptest.NewServer(r)
			defer srv.Close()

			n := NewNegotiator(srv.URL, "biohub", sessionStore(t))
			tok, err := n.ConnectionToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "page-tok-1", tok)
			assert.Equal(t, "sid=xyz", gotCookie)
		})
	}
}

func TestConnectionTokenFromNegotiateEndpoint(t *testing.T) {
	t.Run("token field", func(t *testing.T) {
		var gotProtocol, gotData string
		r := chi.NewRouter()
		r.Get("/Attendance", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html>no token on the page</html>`))
		})
		r.Get("/signalr/negotiate", func(w http.ResponseWriter, req *http.Request) {
			gotProtocol = req.URL.Query().Get("clientProtocol")
			gotData = req.URL.Query().Get("connectionData")
			w.Write([]byte(`{"ConnectionToken":"neg-tok","KeepAliveTimeout":20.0}`))
		})
		srv := httptest.NewServer(r)
		defer srv.Close()

		n := NewNegotiator(srv.URL, "biohub", sessionStore(t))
		tok, err := n.ConnectionToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "neg-tok", tok)
		assert.Equal(t, "1.5", gotProtocol)
		assert.Equal(t, `[{"name":"biohub"}]`, gotData)
	})

	t.Run("token in redirect url", func(t *testing.T) {
		r := chi.NewRouter()
		r.Get("/Attendance", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html></html>`))
		})
		r.Get("/signalr/negotiate", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"Url":"/signalr/connect?connectionToken=url-tok&other=1"}`))
		})
		srv := httptest.NewServer(r)
		defer srv.Close()

		n := NewNegotiator(srv.URL, "biohub", sessionStore(t))
		tok, err := n.ConnectionToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "url-tok", tok)
	})
}

func TestConnectionTokenUnavailable(t *testing.T) {
	t.Run("both sources empty", func(t *testing.T) {
		r := chi.NewRouter()
		r.Get("/Attendance", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html></html>`))
		})
		r.Get("/signalr/negotiate", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{}`))
		})
		srv := httptest.NewServer(r)
		defer srv.Close()

		n := NewNegotiator(srv.URL, "biohub", sessionStore(t))
		_, err := n.ConnectionToken(context.Background())
		assert.ErrorIs(t, err, ErrNoConnectionToken)
	})

	t.Run("server unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		n := NewNegotiator(srv.URL, "biohub", sessionStore(t))
		_, err := n.ConnectionToken(context.Background())
		assert.ErrorIs(t, err, ErrNoConnectionToken)
	})
}
