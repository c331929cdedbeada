package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tag appends a marker on the request path so execution order is visible.
func tag(order *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChain_PriorityOrder(t *testing.T) {
	var order []string
	chain := NewChain()

	// Registered out of order on purpose.
	chain.Add(PriorityInterceptor, tag(&order, "interceptor"))
	chain.Add(PriorityLogging, tag(&order, "logging"))
	chain.Add(PriorityCORS, tag(&order, "cors"))

	handler := chain.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"logging", "cors", "interceptor", "handler"}, order)
}

func TestChain_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	var order []string
	chain := NewChain()
	chain.Add(10, tag(&order, "first"))
	chain.Add(10, tag(&order, "second"))

	handler := chain.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 2, chain.Len())
}

func TestChain_EmptyAppliesHandlerUnchanged(t *testing.T) {
	chain := NewChain()
	called := false
	handler := chain.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestResponseWriter_TracksWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := Wrap(rec)

	assert.False(t, rw.Written())
	assert.Zero(t, rw.Status())

	rw.WriteHeader(http.StatusTeapot)
	assert.True(t, rw.Written())
	assert.Equal(t, http.StatusTeapot, rw.Status())
}

func TestResponseWriter_WriteMarksWritten(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := Wrap(rec)

	_, err := rw.Write([]byte("body"))
	require.NoError(t, err)
	assert.True(t, rw.Written())
}

func TestWrap_Idempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := Wrap(rec)
	assert.Same(t, rw, Wrap(rw))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"}, "production")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {},
	))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnknownOriginProduction(t *testing.T) {
	handler := CORS(nil, "production")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {},
	))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DevelopmentWildcard(t *testing.T) {
	handler := CORS(nil, "development")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {},
	))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	nextCalled := false
	handler := CORS(nil, "development")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) { nextCalled = true },
	))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, nextCalled)
}
