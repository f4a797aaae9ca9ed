package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	svc := newTestService(repo, Dependencies{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 5)))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateAndVoid(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	router := newTestRouter(repo)

	rr := do(t, router, http.MethodPost, "/transfers",
		`{"transaction_date":"2024-05-01","from_branch_id":1,"to_branch_id":2,"lines":[{"item_id":42,"variant_id":2,"qty":20}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, int64(5), created.Transfer.CreatedBy)
	require.Len(t, created.Shortages, 1)

	path := "/transfers/" + strconv.FormatInt(created.Transfer.ID, 10)
	rr = do(t, router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, http.MethodPost, path+"/void", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, path+"/void", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "ALREADY_VOIDED", problem.Code)
	require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	rr := do(t, router, http.MethodPost, "/transfers",
		`{"from_branch_id":1,"to_branch_id":1,"lines":[{"item_id":42,"variant_id":2,"qty":1}]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "SAME_BRANCH")

	rr = do(t, router, http.MethodPost, "/transfers",
		`{"from_branch_id":1,"to_branch_id":2,"master_item_id":9,"lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/transfers/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
