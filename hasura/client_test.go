package hasura

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rush86999/atomagent/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(t *testing.T, status int, body string, check func(r *http.Request, req request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDo(t *testing.T) {
	srv := server(t, http.StatusOK, `{"data":{"thing":{"id":"42"}}}`, func(r *http.Request, req request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "s3cret", r.Header.Get(AdminSecretHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "GetThing", req.OperationName)
		assert.Equal(t, "u1", req.Variables["userId"])
	})

	c := New(Options{URL: srv.URL, AdminSecret: "s3cret"})
	var out struct {
		Thing struct {
			ID string `json:"id"`
		} `json:"thing"`
	}
	err := c.Do(t.Context(), "GetThing", "query GetThing { thing { id } }", map[string]any{"userId": "u1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Thing.ID)
}

func TestDoErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{
			name:    "graphql errors are aggregated",
			status:  http.StatusOK,
			body:    `{"errors":[{"message":"permission denied"},{"message":"field not found"}]}`,
			want:    ErrGraphQL,
			message: "permission denied; field not found",
		},
		{
			name:   "non json body",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			want:   ErrTransport,
		},
		{
			name:   "non 2xx without errors",
			status: http.StatusInternalServerError,
			body:   `{}`,
			want:   ErrTransport,
		},
		{
			name:   "missing data",
			status: http.StatusOK,
			body:   `{"data":null}`,
			want:   ErrGraphQL,
		},
		{
			name:   "unexpected shape",
			status: http.StatusOK,
			body:   `{"data":{"thing":[1,2,3]}}`,
			want:   ErrGraphQL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server(t, tt.status, tt.body, nil)
			c := New(Options{URL: srv.URL, AdminSecret: "s"})

			var out struct {
				Thing struct{ ID string } `json:"thing"`
			}
			err := c.Do(t.Context(), "Op", "query Op { thing { id } }", nil, &out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestDoNotConfigured(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	for _, o := range []Options{{URL: srv.URL}, {AdminSecret: "s"}, {}} {
		c := New(o)
		assert.False(t, c.Configured())
		err := c.Do(t.Context(), "Op", "query Op { x }", nil, nil)
		assert.True(t, errors.Is(err, ErrNotConfigured))
	}
	assert.False(t, called, "no request may be sent without configuration")
}

func TestDoTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(Options{URL: url, AdminSecret: "s"}).Do(t.Context(), "Op", "query Op { x }", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatusCode(err))
}
