package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resetCall struct {
	userID string
	period string
}

func newTestRouter(store Store, resets *[]resetCall) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, func(_ *gin.Context, userID, period string) {
		if resets != nil {
			*resets = append(*resets, resetCall{userID, period})
		}
	})
	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	admin := r.Group("/v1/admin")
	h.RegisterAdminRoutes(admin)
	return r
}

func postUsage(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/usage", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRecordUsage(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRouter(store, nil)

	w := postUsage(r, `{"userId":"u-1","period":"2026-08","cost":"1.500000","description":"  batch run  "}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Record *Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Record.ID)
	assert.Equal(t, "batch run", resp.Record.Description, "description is sanitized")

	total, err := store.TotalCost(context.Background(), "u-1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "1500000", total.String())
}

func TestRecordUsageRejectsBadInput(t *testing.T) {
	r := newTestRouter(NewMemoryStore(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing cost", `{"userId":"u-1","period":"2026-08"}`},
		{"negative cost", `{"userId":"u-1","period":"2026-08","cost":"-1.000000"}`},
		{"non-decimal cost", `{"userId":"u-1","period":"2026-08","cost":"1e6"}`},
		{"malformed period", `{"userId":"u-1","period":"August 2026","cost":"1.000000"}`},
		{"period with time", `{"userId":"u-1","period":"2026-08-26T10:00:00Z","cost":"1.000000"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, postUsage(r, tt.body).Code)
		})
	}
}

func TestGetUsage(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRouter(store, nil)

	require.Equal(t, http.StatusCreated, postUsage(r, `{"userId":"u-1","period":"2026-08","cost":"2.250000"}`).Code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/users/u-1/usage?period=2026-08", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2.250000", resp["totalCost"])
	assert.Equal(t, "2026-08", resp["period"])
}

func TestGetUsageRejectsMalformedPeriod(t *testing.T) {
	r := newTestRouter(NewMemoryStore(), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/users/u-1/usage?period=nonsense", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetUsageFiresCallback(t *testing.T) {
	store := NewMemoryStore()
	var resets []resetCall
	r := newTestRouter(store, &resets)

	require.Equal(t, http.StatusCreated, postUsage(r, `{"userId":"u-1","period":"2026-08","cost":"4.000000"}`).Code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/admin/users/u-1/usage/reset?period=2026-08", nil))
	require.Equal(t, http.StatusOK, w.Code)

	total, err := store.TotalCost(context.Background(), "u-1", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "0", total.String())

	require.Len(t, resets, 1)
	assert.Equal(t, resetCall{"u-1", "2026-08"}, resets[0])
}
