package milvus

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Validate())

	opts.Address = ""
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.Collection = ""
	assert.Error(t, opts.Validate())

	opts = NewOptions()
	opts.Timeout = 0
	assert.Error(t, opts.Validate())
}

func TestNewStore_InvalidOptions(t *testing.T) {
	_, err := NewStore(context.Background(), &Options{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewStore(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewStore_Unreachable(t *testing.T) {
	opts := NewOptions()
	// Nothing listens on the discard port.
	opts.Address = "127.0.0.1:9"
	opts.Timeout = 500 * time.Millisecond

	_, err := NewStore(context.Background(), opts)
	assert.ErrorIs(t, err, core.ErrTargetUnreachable)
}

func TestDecodeMetadata(t *testing.T) {
	assert.Nil(t, decodeMetadata(""))
	assert.Nil(t, decodeMetadata("null"))
	assert.Equal(t, map[string]string{"source": "a.md"}, decodeMetadata(`{"source":"a.md"}`))
	assert.Equal(t, map[string]string{"raw": "{broken"}, decodeMetadata("{broken"))
}
