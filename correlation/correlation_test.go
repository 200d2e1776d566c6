package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
)

func TestDeriveRequestID(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"absent", nil, "fb"},
		{"plain", []string{"abc"}, "abc"},
		{"trimmed", []string{"  abc  "}, "abc"},
		{"whitespace only", []string{"   "}, "fb"},
		{"first non-blank wins", []string{"", " ", "second", "third"}, "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, v := range tt.values {
				r.Header.Add(DefaultHeader, v)
			}
			cc := Derive(r, "", "fb")
			assert.Equal(t, tt.want, cc.RequestID)
			assert.Equal(t, "fb", cc.TraceID, "no active trace")
		})
	}
}

func TestDeriveCustomHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(DefaultHeader, "ignored")
	r.Header.Set("X-Correlation-Id", "corr-1")
	assert.Equal(t, "corr-1", Derive(r, "X-Correlation-Id", "fb").RequestID)
}

func TestDeriveTraceIDFromRemoteParent(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	ctx := propagation.TraceContext{}.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	cc := Derive(r.WithContext(ctx), "", "fb")
	assert.Equal(t, traceID, cc.TraceID)
	assert.Equal(t, "fb", cc.RequestID)
}

func TestDeriveNilRequest(t *testing.T) {
	assert.Equal(t, Context{}, Derive(nil, "", "fb"))
}

func TestDeriveBlankFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, Context{}, Derive(r, "", "  "))
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	want := Context{RequestID: "r", TraceID: "t"}
	got, ok := FromContext(NewContext(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
