package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestPackRequestCookies(t *testing.T) {
	r := httptest.NewRequest("GET", "/myapp/event/page", nil)
	r.Header.Set("Cookie", "session=42; lang=en")
	r.Header.Set("X-Custom", "1")

	b, err := PackRequest(r, "/page", nil)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, msgpack.Unmarshal(b, &env))
	require.Len(t, env.Headers, 5)
	assert.Equal(t, [][2]string{{"session", "42"}, {"lang", "en"}}, env.Headers[:2])
	assert.Equal(t, [][2]string{
		{"Cookie", "session=42; lang=en"},
		{"Host", "example.com"},
		{"X-Custom", "1"},
	}, env.Headers[2:])
}

func TestPackRequestWithoutCookies(t *testing.T) {
	r := httptest.NewRequest("POST", "/myapp/event", nil)
	b, err := PackRequest(r, "/", []byte("body"))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, msgpack.Unmarshal(b, &env))
	assert.Equal(t, [][2]string{{"Host", "example.com"}}, env.Headers)
	assert.Equal(t, "POST", env.Method)
	assert.Equal(t, []byte("body"), env.Body)
}
