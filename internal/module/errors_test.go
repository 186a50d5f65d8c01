package module_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/module"
)

func TestNormalize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, module.Normalize(nil))
	})

	t.Run("module errors pass through", func(t *testing.T) {
		custom := module.NewCustomError(42, "bad_input", "x must be positive")
		wrapped := fmt.Errorf("calling add: %w", custom)

		got := module.Normalize(wrapped)
		require.NotNil(t, got)
		assert.Same(t, custom, got)
	})

	t.Run("context errors become destroyed", func(t *testing.T) {
		got := module.Normalize(context.Canceled)
		assert.Equal(t, module.ErrorTypeDestroyed, got.Type)
		assert.ErrorIs(t, got, module.ErrDestroyed)
		assert.ErrorIs(t, got, context.Canceled)
	})

	t.Run("plain errors become internal custom errors", func(t *testing.T) {
		got := module.Normalize(errors.New("boom"))
		assert.Equal(t, module.ErrorTypeCustom, got.Type)
		assert.Equal(t, module.CodeInternal, got.Code)
		assert.Equal(t, "boom", got.Message)
	})
}

func TestModuleErrorIs(t *testing.T) {
	assert.ErrorIs(t, module.Destroyed(errors.New("gone")), module.ErrDestroyed)
	assert.NotErrorIs(t, module.ErrUnknownMethod, module.ErrDestroyed)
	assert.ErrorIs(t, module.NewCustomError(1, "", ""), &module.ModuleError{Type: module.ErrorTypeCustom})
}

func TestModuleErrorMessage(t *testing.T) {
	assert.Equal(t, "unknown method", module.ErrUnknownMethod.Error())
	assert.Equal(t, "module destroyed", module.ErrDestroyed.Error())
	assert.Equal(t, "module error 7 (not_found): no such user", module.NewCustomError(7, "not_found", "no such user").Error())
	assert.Equal(t, "module error 7", module.NewCustomError(7, "", "").Error())
}

func TestActions(t *testing.T) {
	h := module.Actions{
		"echo": func(_ context.Context, req module.Request) (module.Response, error) {
			return module.Response{Data: req.Body}, nil
		},
	}

	resp, err := h.Handle(context.Background(), module.Request{Action: "echo", Body: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), resp.Data)

	_, err = h.Handle(context.Background(), module.Request{Action: "nope"})
	assert.ErrorIs(t, err, module.ErrUnknownMethod)
}
