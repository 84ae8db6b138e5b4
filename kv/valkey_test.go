package kv

import (
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValkeyStore_RequiresAddress(t *testing.T) {
	_, err := NewValkeyStore(ValkeyConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestNewValkeyStoreFromClient_Prefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "entry:abc"},
		{prefix: "app", want: "app:entry:abc"},
		{prefix: "app:", want: "app:entry:abc"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			s := NewValkeyStoreFromClient(nil, tt.prefix)
			assert.Equal(t, tt.want, s.key("entry:abc"))
		})
	}
}
