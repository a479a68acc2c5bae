package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{500, true},
		{502, true},
		{503, true},
		{429, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{413, false},
		{422, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := classifyHTTP(tt.status, []byte(`{"error":"x"}`))
			assert.Equal(t, tt.temporary, err.Temporary)
			assert.Equal(t, tt.temporary, IsTransient(err))
			assert.Equal(t, !tt.temporary, IsPermanent(err))
			assert.Contains(t, err.Error(), fmt.Sprint(tt.status))
		})
	}

	assert.Same(t, ErrTimeout, classifyHTTP(408, nil))
}

func TestTimeoutMessage(t *testing.T) {
	assert.Equal(t, "timeout", ErrTimeout.Error())
	assert.True(t, IsTransient(ErrTimeout))

	assert.Same(t, ErrTimeout, classifyTransport(fasthttp.ErrTimeout))
	assert.Same(t, ErrTimeout, classifyTransport(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.True(t, classifyTransport(errors.New("connection refused")).Temporary)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsTransient(errors.New("unknown")))
	assert.True(t, IsPermanent(ErrProviderInactive))
	assert.True(t, IsPermanent(fmt.Errorf("send: %w", Permanent("x", "bad"))))
}
