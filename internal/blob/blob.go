// Package blob selects the archive backend used for pre-upgrade backups.
package blob

import (
	"context"
	"fmt"
	"strings"

	"limscore/internal/blob/core"
	"limscore/internal/infra/blob/fs"
	"limscore/internal/infra/blob/memory"
	"limscore/internal/infra/blob/s3"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Config picks a driver and carries the settings of each backend.
type Config struct {
	Driver Driver    `mapstructure:"driver" validate:"omitempty,oneof=fs s3 memory"`
	FSRoot string    `mapstructure:"fs_root"`
	S3     s3.Config `mapstructure:"s3"`
}

// Open builds the Store named by cfg.Driver. An empty driver means filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
