package memory_test

import (
	"testing"

	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/memory"
	"github.com/msawczynk/keeper-perms-automation/pkg/checkpoint/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) checkpoint.Store {
		return memory.New()
	})
}
