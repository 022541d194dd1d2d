package badger_test

import (
	"testing"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/badger"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) checkpoint.Store {
		store, err := badger.Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		})
		return store
	})
}
