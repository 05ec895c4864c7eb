package finder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_DecodesCompanies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "стройматериалы Самара", req.Query)
		assert.Equal(t, 10, req.MaxResults)

		json.NewEncoder(w).Encode(SearchResponse{Companies: []Company{
			{
				INN:          "7707083893",
				ShortName:    "ООО Ромашка",
				LegalAddress: "г. Самара, ул. Строителей, 1",
				Phones:       []string{"8 (846) 123-45-67"},
				Website:      "https://romashka.ru",
			},
			{INN: "7736050003", ShortName: "ООО Газпром"},
		}})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "tok-1", WithHTTPClient(srv.Client()))
	companies, err := client.Search(context.Background(), "стройматериалы Самара", 10)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "7707083893", companies[0].INN)
	assert.Equal(t, []string{"8 (846) 123-45-67"}, companies[0].Phones)
}

func TestSearch_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "agent backend down")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", WithHTTPClient(srv.Client()))
	_, err := client.Search(context.Background(), "кирпич", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
