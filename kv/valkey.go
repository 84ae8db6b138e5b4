package kv

import (
	"context"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout bounds the initial ping when connecting to Valkey.
const DefaultConnectTimeout = 5 * time.Second

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// ValkeyStore is a Store backed by a Valkey server.
type ValkeyStore struct {
	client valkeylib.Client
	prefix string
}

// NewValkeyStore connects to the configured server and verifies it with a ping.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "valkey address cannot be empty")
	}

	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to create valkey client")
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, errors.CodeNetwork, "failed to ping valkey at %s", cfg.Address)
	}

	return NewValkeyStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewValkeyStoreFromClient wraps an existing client. Keys are namespaced
// under prefix when it is non-empty.
func NewValkeyStoreFromClient(client valkeylib.Client, prefix string) *ValkeyStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyStore{client: client, prefix: prefix}
}

func (s *ValkeyStore) key(k string) string {
	return s.prefix + k
}

// Get implements Store.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(s.key(key)).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to get key %q", key)
	}
	return data, nil
}

// Set implements Store.
func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(s.key(key)).Value(valkeylib.BinaryString(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to set key %q", key)
	}
	return nil
}

// Delete implements Store.
func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(s.key(key)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to delete key %q", key)
	}
	return nil
}

// Close implements Store.
func (s *ValkeyStore) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
