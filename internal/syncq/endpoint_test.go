package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEndpointDeliverRoutesOperation(t *testing.T) {
	var gotPath, gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		var buf [64]byte
		n, _ := r.Body.Read(buf[:])
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint(server.URL+"/", server.Client())
	err := endpoint.Deliver(context.Background(), "create_batch", json.RawMessage(`{"id":"BAT-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "/batches", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"id":"BAT-1"}`, gotBody)
}

func TestHTTPEndpointUnknownOperationFallsBack(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint(server.URL, server.Client())
	require.NoError(t, endpoint.Deliver(context.Background(), "custom_op", nil))
	assert.Equal(t, "/sync", gotPath)
}

func TestHTTPEndpointNon2xxIsDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	endpoint := NewHTTPEndpoint(server.URL, server.Client())
	err := endpoint.Deliver(context.Background(), "create_batch", nil)
	require.Error(t, err)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, http.StatusBadGateway, deliveryErr.StatusCode)
	assert.Equal(t, "create_batch", deliveryErr.Operation)
}
