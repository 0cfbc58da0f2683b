package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// OpenDeviceStore connects the device-lifetime backend selected by
// cfg.DeviceStore. The returned close func releases the connection.
func OpenDeviceStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Scope, func(), error) {
	switch cfg.DeviceStore {
	case "postgres":
		pool, err := NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(pool), pool.Close, nil

	case "sqlite":
		db, err := NewSQLiteDB(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewSQLite(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil

	case "memory":
		log.Warn().Msg("Device store is in memory; offline queue and drafts do not survive a restart")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown DEVICE_STORE %q", cfg.DeviceStore)
}
