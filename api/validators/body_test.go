package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
)

type samplePayload struct {
	Text        string `json:"text" validate:"required"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func request(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var payload samplePayload
	require.NoError(t, DecodeJSONBody(request(`{"text":"hello","is_anonymous":true}`), &payload))
	assert.Equal(t, "hello", payload.Text)
	assert.True(t, payload.IsAnonymous)
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	var payload samplePayload
	err := DecodeJSONBody(request(`{"is_anonymous":false}`), &payload)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]string{"text": "is required"}, typed.Details())
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	var payload samplePayload
	err := DecodeJSONBody(request(`{"text":"x","x":10}`), &payload)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestDecodeJSONBodyRejectsEmptyBody(t *testing.T) {
	var payload samplePayload
	err := DecodeJSONBody(request(``), &payload)
	require.Error(t, err)
	assert.Equal(t, "request body is required", pkgerrors.As(err).Message())
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	var payload samplePayload
	big := `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	err := DecodeJSONBody(request(big), &payload)
	require.Error(t, err)
	assert.Equal(t, "request body too large", pkgerrors.As(err).Message())
}
