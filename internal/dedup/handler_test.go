package dedup

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/ledgerview/internal/core/aggregation"
	httperr "github.com/aevon-lab/ledgerview/internal/core/errors"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/core/storage/memory"
	storagemocks "github.com/aevon-lab/ledgerview/internal/mocks/storage"
)

func newRouter(d *Detector) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	d.RegisterRoutes(router)
	return router
}

func TestDetector_HandleScan(t *testing.T) {
	f := newFixture(t, memory.NewObjectStore())
	f.uploads.AddUpload(storage.Upload{ID: "a", Filename: "x.txt", State: storage.UploadComplete, CreatedAt: testNow})
	f.uploads.AddUpload(storage.Upload{ID: "b", Filename: "X (1).txt", State: storage.UploadStarted, CreatedAt: testNow})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/duplicates", nil)
	newRouter(f.detector).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var report DuplicateReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Groups, 1)
	require.Equal(t, "a", report.Groups[0].KeepID)
	require.Equal(t, 1, report.RemovableCount)
}

func TestDetector_HandlePurge(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedType   string
		expectApplied  bool
	}{
		{
			name:           "empty body purges everything",
			body:           "",
			expectedStatus: http.StatusOK,
			expectApplied:  true,
		},
		{
			name:           "dry run",
			body:           `{"dry_run": true}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid json",
			body:           `{"dry_run": `,
			expectedStatus: http.StatusBadRequest,
			expectedType:   httperr.HttpInvalidJsonError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, memory.NewObjectStore())
			f.seedAggregate(storage.AggregateRef{Kind: "retired-kind", Period: "2024-03"}, testNow, 10)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/purge", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			newRouter(f.detector).ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedType != "" {
				var resp httperr.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.Equal(t, tt.expectedType, resp.ErrorType)
				require.Equal(t, 1, f.aggregates.Len())
				return
			}

			var res PurgeResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			require.Len(t, res.Items, 1)
			require.Equal(t, tt.expectApplied, res.Items[0].Applied)
			if tt.expectApplied {
				require.Zero(t, f.aggregates.Len())
			} else {
				require.Equal(t, 1, f.aggregates.Len())
			}
		})
	}
}

func TestDetector_HandleScanStoreError(t *testing.T) {
	aggregates := storagemocks.NewAggregateStore(t)
	aggregates.EXPECT().ListAggregates(mock.Anything).Return(nil, errors.New("connection refused"))

	d := NewDetector(memory.NewUploadStore(), aggregates, nil, aggregation.NewKindRegistry(aggregation.DefaultKinds()...), Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/duplicates", nil)
	newRouter(d).ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInternalError, resp.ErrorType)
	require.Contains(t, resp.Details, "connection refused")
}
