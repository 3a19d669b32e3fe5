package quota

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type configChange struct {
	kind string
	id   string
}

func newAdminRouter(store Store, changes *[]configChange) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, NewResolver(store), nil, func(_ *gin.Context) (*Principal, bool) {
		return nil, false
	})
	h.OnConfigChange(func(kind, id string) {
		if changes != nil {
			*changes = append(*changes, configChange{kind, id})
		}
	})
	r := gin.New()
	admin := r.Group("/v1/admin")
	h.RegisterAdminRoutes(admin)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func createTier(t *testing.T, r *gin.Engine, name string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/v1/admin/tiers",
		`{"name":"`+name+`","monthlyLimit":"100"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Tier Tier `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Tier.ID)
	return resp.Tier.ID
}

func TestTierLifecycleEmitsConfigChanges(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	id := createTier(t, r, "standard")

	w := doJSON(r, http.MethodPut, "/v1/admin/tiers/"+id,
		`{"name":"standard","monthlyLimit":"250"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodDelete, "/v1/admin/tiers/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, changes, 3)
	for _, ch := range changes {
		assert.Equal(t, "tier", ch.kind)
		assert.Equal(t, id, ch.id)
	}
}

func TestRejectedMutationEmitsNoConfigChange(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	w := doJSON(r, http.MethodPost, "/v1/admin/tiers", `{"name":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/tiers",
		`{"name":"broken","monthlyLimit":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/admin/tiers/tier_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, changes)
}

func TestAssignmentMutationsEmitConfigChanges(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	tierID := createTier(t, r, "team")
	changes = changes[:0]

	w := doJSON(r, http.MethodPost, "/v1/admin/assignments",
		`{"tierId":"`+tierID+`","kind":"email_domain","subject":"example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Assignment Assignment `json:"assignment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(r, http.MethodDelete, "/v1/admin/assignments/"+resp.Assignment.ID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, changes, 2)
	assert.Equal(t, configChange{"assignment", resp.Assignment.ID}, changes[0])
	assert.Equal(t, configChange{"assignment", resp.Assignment.ID}, changes[1])
}

func TestAssignmentRejectsUnknownTier(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	w := doJSON(r, http.MethodPost, "/v1/admin/assignments",
		`{"tierId":"tier_missing","kind":"email_domain","subject":"example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, changes)
}

func TestOverrideMutationsEmitConfigChanges(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	w := doJSON(r, http.MethodPost, "/v1/admin/overrides",
		`{"userId":"u-1","type":"unlimited","reason":"launch week"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Override Override `json:"override"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(r, http.MethodDelete, "/v1/admin/overrides/"+resp.Override.ID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, changes, 2)
	assert.Equal(t, configChange{"override", resp.Override.ID}, changes[0])
	assert.Equal(t, configChange{"override", resp.Override.ID}, changes[1])
}

func TestDeleteTierWithAssignmentsConflicts(t *testing.T) {
	var changes []configChange
	r := newAdminRouter(NewMemoryStore(), &changes)

	tierID := createTier(t, r, "team")
	w := doJSON(r, http.MethodPost, "/v1/admin/assignments",
		`{"tierId":"`+tierID+`","kind":"default_tier"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	changes = changes[:0]

	w = doJSON(r, http.MethodDelete, "/v1/admin/tiers/"+tierID, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, changes)
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	r := newAdminRouter(NewMemoryStore(), nil)

	w := doJSON(r, http.MethodPost, "/v1/admin/cache/invalidate", `{"userId":"u-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"invalidated":true`)

	w = doJSON(r, http.MethodPost, "/v1/admin/cache/invalidate", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
