package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"refebot/internal/config"
	"refebot/internal/inventory"
	logx "refebot/pkg/logx"
)

func TestLedgerAndInventoryShareOneLock(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Ledger:    config.LedgerConfig{Path: filepath.Join(dir, "refe.json"), Timezone: "UTC"},
		Inventory: config.InventoryConfig{Path: filepath.Join(dir, "accounts.json")},
	}
	led, err := OpenLedger(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	inv, err := OpenInventory(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenInventory: %v", err)
	}

	ctx := context.Background()
	done := make(chan string, 2)

	docMu.Lock()
	go func() {
		if _, err := led.RecordSubmission(ctx, "2024-05", 1, "ana"); err != nil {
			t.Errorf("RecordSubmission: %v", err)
		}
		done <- "ledger"
	}()
	go func() {
		err := inv.Add(ctx, inventory.Entry{Name: "netflix", Email: "a@b.c", Password: "pw", MaxUses: 1, CreatorID: 1})
		if err != nil {
			t.Errorf("Add: %v", err)
		}
		done <- "inventory"
	}()

	select {
	case name := <-done:
		docMu.Unlock()
		t.Fatalf("%s update ran while the shared document lock was held", name)
	case <-time.After(150 * time.Millisecond):
	}
	docMu.Unlock()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("updates did not finish after the lock was released")
		}
	}
}
