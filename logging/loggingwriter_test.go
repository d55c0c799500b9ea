package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggingWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := NewLoggingWriter(rec)
	assert.False(t, lw.Written())

	lw.Header().Set("X-Test", "1")
	lw.WriteHeader(http.StatusTeapot)
	lw.Write([]byte("hello"))
	lw.Flush()

	assert.True(t, lw.Written())
	assert.Equal(t, http.StatusTeapot, lw.GetCode())
	assert.Equal(t, int64(5), lw.GetBytes())
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	assert.True(t, rec.Flushed)

	_, _, err := lw.Hijack()
	assert.Error(t, err)
}

func TestLoggingWriterImplicitStatus(t *testing.T) {
	lw := NewLoggingWriter(httptest.NewRecorder())
	lw.Write([]byte("hello"))
	assert.Equal(t, http.StatusOK, lw.GetCode())
}
