//go:build !linux
// +build !linux

package firewall

import (
	"context"
	"errors"

	"grimm.is/warden/internal/logging"
)

// ErrUnsupported is returned by the nftables backend off Linux.
var ErrUnsupported = errors.New("nftables is only available on linux")

// NFTConfig names the table and chain the backend manages.
type NFTConfig struct {
	Table    string
	Chain    string
	Priority int32
}

// DefaultNFTConfig returns the default table layout.
func DefaultNFTConfig() NFTConfig {
	return NFTConfig{Table: "warden", Chain: "filter"}
}

// NFTBackend is unavailable on this platform.
type NFTBackend struct{}

// NewNFTBackend always fails off Linux.
func NewNFTBackend(cfg NFTConfig, store RuleStore, logger *logging.Logger) (*NFTBackend, error) {
	return nil, ErrUnsupported
}

func (b *NFTBackend) Open(ctx context.Context) error { return ErrUnsupported }

func (b *NFTBackend) List(ctx context.Context) (map[FilterID]string, error) {
	return nil, ErrUnsupported
}

func (b *NFTBackend) AddIPv4(ctx context.Context, rule Rule) (FilterID, error) {
	return 0, ErrUnsupported
}

func (b *NFTBackend) AddIPv6(ctx context.Context, rule Rule) (FilterID, error) {
	return 0, ErrUnsupported
}

func (b *NFTBackend) Remove(ctx context.Context, id FilterID) error { return ErrUnsupported }
