package app

import (
	"context"
	"fmt"
	"sync"

	"refebot/internal/config"
	"refebot/internal/docstore"
	"refebot/internal/inventory"
	"refebot/internal/ledger"
	"refebot/internal/storage"
	logx "refebot/pkg/logx"
)

// docMu serializes every read-modify-write on the ledger and inventory
// documents in this process.
var docMu sync.Mutex

// OpenLedger opens the submissions ledger at ledger.path.
func OpenLedger(cfg *config.Config, log logx.Logger, opts ...ledger.Option) (*ledger.Ledger, error) {
	st, err := docstore.New[ledger.Document](cfg.Ledger.Path,
		docstore.WithLock(&docMu),
		docstore.WithLogger(log.With(logx.String("doc", "ledger"))),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts = append([]ledger.Option{ledger.WithLocation(loc), ledger.WithLogger(log)}, opts...)
	return ledger.New(st, opts...), nil
}

// OpenInventory opens the credential inventory at inventory.path.
func OpenInventory(cfg *config.Config, log logx.Logger, opts ...inventory.Option) (*inventory.Service, error) {
	st, err := docstore.New[inventory.Document](cfg.Inventory.Path,
		docstore.WithLock(&docMu),
		docstore.WithLogger(log.With(logx.String("doc", "inventory"))),
	)
	if err != nil {
		return nil, fmt.Errorf("inventory store: %w", err)
	}
	opts = append([]inventory.Option{inventory.WithLogger(log)}, opts...)
	return inventory.New(st, opts...), nil
}

// OpenAudit opens the audit store, or returns nil when storage is off.
func OpenAudit(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("audit storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return st, nil
}

// sanitizeInventory repairs entries that break the remaining/max_uses
// bounds, for example after a hand edit.
func sanitizeInventory(ctx context.Context, inv *inventory.Service, log logx.Logger) {
	n, err := inv.Sanitize(ctx)
	if err != nil {
		log.Warn("inventory sanitize failed", logx.Err(err))
		return
	}
	if n > 0 {
		log.Warn("inventory entries repaired at startup", logx.Int("count", n))
	}
}
