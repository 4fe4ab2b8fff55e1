package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/coregate/gateway/internal/gwtypes"
)

func TestEmbeddingsHandlerSuccess(t *testing.T) {
	a := &fakeAdapter{
		name:  "fake",
		model: testModel("test.model", "fake"),
		embedResp: gwtypes.EmbeddingResponse{
			Data: [][]float64{{0.1, 0.2, 0.3}},
			Usage:      gwtypes.Usage{PromptTokens: 3, TotalTokens: 3},
		},
	}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/embeddings", gwtypes.EmbeddingRequest{
		LogicalModelID: "test.model",
		Input:          []string{"hello world"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp gwtypes.EmbeddingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Data[0])
}

func TestEmbeddingsHandlerMissingInputIsBadRequest(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/embeddings", gwtypes.EmbeddingRequest{LogicalModelID: "test.model"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsHandlerListsRegisteredModels(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/models", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Models []modelInfoDTO `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Models, 1)
	require.Equal(t, "test.model", out.Models[0].LogicalModelID)
	require.Equal(t, "fake", out.Models[0].Provider)
}

func TestHealthHandlerOkWhenProviderUp(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestAdminCircuitsHandlerReportsSnapshot(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/admin/v1/circuits", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Circuits map[string]any `json:"circuits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
}

func TestAdminHealthHandlerReportsProviderStats(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/admin/v1/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCacheHandlerReportsCounters(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/admin/v1/cache", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Contains(t, out, "cacheHitTotal")
	require.Contains(t, out, "cacheMissTotal")
}

func TestAdminBudgetsHandlerReturnsEmptyListByDefault(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	r, _ := newTestRouter(t, a)

	rec := doRequest(t, r, http.MethodGet, "/admin/v1/budgets?userId=u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Budgets []gwtypes.Budget `json:"budgets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Empty(t, out.Budgets)
}

func TestAdminRoutesRequireTokenWhenConfigured(t *testing.T) {
	a := &fakeAdapter{name: "fake", model: testModel("test.model", "fake")}
	_, d := newTestRouter(t, a)

	// Re-mount with an admin token to verify the auth middleware rejects
	// unauthenticated requests; newTestRouter's default Dependencies leaves
	// AdminToken empty so /admin/v1 is open, matching local/dev usage.
	d.AdminToken = "secret-token"
	protected := chi.NewRouter()
	MountRoutes(protected, d)

	rec := doRequest(t, protected, http.MethodGet, "/admin/v1/circuits", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
