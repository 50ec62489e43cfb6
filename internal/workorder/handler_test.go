package workorder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(store *memoryStore) *httptest.Server {
	handler := NewHandler(testLogger(), NewService(store, testLogger()))
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return httptest.NewServer(r)
}

func TestAdvanceEndpoint(t *testing.T) {
	store := newMemoryStore()
	id := seedOrder(store, StatusDraft)
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/work-orders/"+id.String()+"/advance", "application/json",
		strings.NewReader(`{"target_status":"in_progress"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wo WorkOrder
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wo))
	require.Equal(t, StatusInProgress, wo.Status)
}

func TestAdvanceEndpointRejectsIllegalTransition(t *testing.T) {
	store := newMemoryStore()
	id := seedOrder(store, StatusDraft)
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/work-orders/"+id.String()+"/advance", "application/json",
		strings.NewReader(`{"target_status":"completed"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAdvanceEndpointUnknownOrder(t *testing.T) {
	srv := newTestServer(newMemoryStore())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/work-orders/1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed/advance", "application/json",
		strings.NewReader(`{"target_status":"in_progress"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetEndpoint(t *testing.T) {
	store := newMemoryStore()
	id := seedOrder(store, StatusInProgress)
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/work-orders/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdvanceEndpointRejectsBadBody(t *testing.T) {
	store := newMemoryStore()
	id := seedOrder(store, StatusDraft)
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/work-orders/"+id.String()+"/advance", "application/json",
		strings.NewReader(`{"target_status":"in_progress","unknown_field":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
