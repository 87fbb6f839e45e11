package server

import (
	"bytes"
	"database/sql/driver"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/ledgerview/internal/freshness"
)

type fakeCache struct{ stats freshness.Stats }

func (f fakeCache) Stats() freshness.Stats { return f.stats }

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{name: "database reachable", expectedStatus: http.StatusOK, expectedBody: `"connected"`},
		{name: "database unreachable", pingErr: driver.ErrBadConn, expectedStatus: http.StatusServiceUnavailable, expectedBody: "database unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer db.Close()

			ping := mock.ExpectPing()
			if tt.pingErr != nil {
				ping.WillReturnError(tt.pingErr)
			}

			srv := New(Options{Addr: "127.0.0.1:0", Mode: "release", DB: db})
			w := httptest.NewRecorder()
			srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.expectedStatus, w.Code)
			require.Contains(t, w.Body.String(), tt.expectedBody)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestServer_HealthReportsCache(t *testing.T) {
	srv := New(Options{
		Addr:  "127.0.0.1:0",
		Cache: fakeCache{stats: freshness.Stats{EntryCount: 3, MaxEntries: 16, Hits: 7}},
	})
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"not_configured"`)
	require.Contains(t, w.Body.String(), `"entries":3`)
	require.Contains(t, w.Body.String(), `"hits":7`)
}

func TestServer_Metrics(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"})
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_LimitsBody(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0", MaxBodyBytes: 8})
	srv.Engine.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{name: "within limit", body: "short", expectedStatus: http.StatusOK},
		{name: "over limit", body: "definitely too long", expectedStatus: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(tt.body)))
			require.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
