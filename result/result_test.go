package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessEnvelope(t *testing.T) {
	type forecast struct {
		Summary string `json:"summary"`
	}
	b, err := json.Marshal(Success(forecast{Summary: "Mild"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"summary":"Mild"},"message":"SUCCESS","code":"0"}`, string(b))

	b, err = json.Marshal(OK())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null,"message":"SUCCESS","code":"0"}`, string(b))
}

func TestFailureEnvelope(t *testing.T) {
	b, err := json.Marshal(Failure("400", "days must not be negative"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null,"message":"days must not be negative","code":"400"}`, string(b))
}

func TestKnownError(t *testing.T) {
	err := fmt.Errorf("calling backend: %w", Known(http.StatusBadGateway, "502", "backend unreachable"))

	var ke *KnownError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, http.StatusBadGateway, ke.Status)
	assert.Equal(t, Failure("502", "backend unreachable"), ke.Envelope())
	assert.Contains(t, err.Error(), "backend unreachable")

	require.True(t, errors.As(Known(42, "x", "y"), &ke))
	assert.Equal(t, http.StatusInternalServerError, ke.Status)
}
