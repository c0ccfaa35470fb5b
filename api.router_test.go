package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRouter wires the real service over an in-memory storage behind the
// full middlewares stacks. It returns the router and the handler for inspection.
func newTestRouter(t *testing.T) (http.Handler, *APIHandler) {
	t.Helper()
	c := NewCatalog()
	c.Books["1984"] = BookEntry{TotalCopies: 1, AvailableCopies: 1}
	cs := NewCatalogService(zap.NewNop(), nil, NewMockClocker(), NewMockCatalogStorage(c), nil)
	api := newTestAPIHandler(cs)
	api.verifier = &multiVerifier{
		"admin": {Username: "admin", Password: "s3cret", Admin: true},
		"alice": {Username: "alice", Password: "wonder"},
	}
	public, secured, ops := api.MiddlewaresStacks()
	router := api.SetupRoutes(httprouter.New(), &MiddlewareMap{
		public:  public.Chain,
		secured: secured.Chain,
		ops:     ops.Chain,
	})
	return router, api
}

type multiVerifier map[string]*MockVerifier

func (mv multiVerifier) Verify(username, password string) (Identity, error) {
	v, ok := mv[username]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	return v.Verify(username, password)
}

func login(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Data.Token
}

func call(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestSetupCatalogRoutes ensures all expected endpoints are implemented.
func TestSetupCatalogRoutes(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		path        string
		implemented bool
	}{
		{"index endpoint", http.MethodGet, "/", true},
		{"status endpoint", http.MethodGet, "/status", true},
		{"login endpoint", http.MethodPost, "/v1/auth/login", true},
		{"list books endpoint", http.MethodGet, "/v1/books", true},
		{"available books endpoint", http.MethodGet, "/v1/books/available", true},
		{"add book endpoint", http.MethodPost, "/v1/books", true},
		{"issue endpoint", http.MethodPost, "/v1/loans", true},
		{"list loans endpoint", http.MethodGet, "/v1/loans", true},
		{"my loans endpoint", http.MethodGet, "/v1/loans/me", true},
		{"return endpoint", http.MethodDelete, "/v1/loans/alice_1984_20230702000000", true},
		{"summary endpoint", http.MethodGet, "/v1/summary", true},
		{"ops stats endpoint", http.MethodGet, "/ops/stats", true},
		{"invalid api endpoint", http.MethodGet, "/v1", false},
		{"invalid books endpoint", http.MethodGet, "/books", false},
	}

	router, _ := newTestRouter(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := call(router, tc.method, tc.path, "", "")
			if tc.implemented {
				assert.NotEqual(t, http.StatusNotFound, w.Code)
			} else {
				assert.Equal(t, http.StatusNotFound, w.Code)
			}
		})
	}
}

// TestNotFoundRoute ensures unknown routes get a json description.
func TestNotFoundRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	w := call(router, http.MethodGet, "/v1/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	m := make(map[string]interface{})
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	assert.Equal(t, "r:0", m["requestid"])
	assert.Equal(t, "route does not exist", m["message"])
	assert.Equal(t, "GET /v1/nowhere", m["path"])
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)
	assert.Equal(t, http.StatusUnauthorized, call(router, http.MethodGet, "/v1/books", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(router, http.MethodGet, "/v1/books", "not-a-token", "").Code)
	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/status", "", "").Code)
}

// TestLendingFlow runs a full lending cycle through the router.
func TestLendingFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	admin := login(t, router, "admin", "s3cret")
	alice := login(t, router, "alice", "wonder")

	assert.Equal(t, http.StatusForbidden, call(router, http.MethodPost, "/v1/books", alice, `{"title":"Dune","copies":1}`).Code)
	assert.Equal(t, http.StatusCreated, call(router, http.MethodPost, "/v1/books", admin, `{"title":"Dune","copies":1}`).Code)
	assert.Equal(t, http.StatusConflict, call(router, http.MethodPost, "/v1/books", admin, `{"title":"Dune","copies":1}`).Code)

	w := call(router, http.MethodPost, "/v1/loans", alice, `{"title":"1984"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Data LoanView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&issued))
	assert.Equal(t, "alice_1984_20230702000000", issued.Data.TransactionID)
	assert.Equal(t, "2023-07-17", issued.Data.DueDate)

	assert.Equal(t, http.StatusConflict, call(router, http.MethodPost, "/v1/loans", admin, `{"title":"1984"}`).Code)
	assert.Equal(t, http.StatusNotFound, call(router, http.MethodPost, "/v1/loans", admin, `{"title":"Ulysses"}`).Code)

	w = call(router, http.MethodGet, "/v1/books/available", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	var available struct {
		Total int                  `json:"total"`
		Data  map[string]BookEntry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&available))
	assert.Equal(t, 1, available.Total)
	assert.Contains(t, available.Data, "Dune")

	w = call(router, http.MethodGet, "/v1/loans/me", alice, "")
	var mine struct {
		Data []LoanView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&mine))
	require.Len(t, mine.Data, 1)
	require.NotNil(t, mine.Data[0].IsOverdue)
	assert.False(t, *mine.Data[0].IsOverdue)
	assert.Equal(t, 15, mine.Data[0].DaysRemaining)

	assert.Equal(t, http.StatusOK, call(router, http.MethodDelete, "/v1/loans/"+issued.Data.TransactionID, alice, "").Code)
	assert.Equal(t, http.StatusNotFound, call(router, http.MethodDelete, "/v1/loans/"+issued.Data.TransactionID, alice, "").Code)

	w = call(router, http.MethodGet, "/v1/summary", admin, "")
	var summary struct {
		Data Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, Summary{Titles: 2, TotalCopies: 2, AvailableCopies: 2}, summary.Data)
}
