package memory_test

import (
	"testing"

	"github.com/wychytu/opencga/internal/metadata"
	"github.com/wychytu/opencga/internal/metadata/memory"
	"github.com/wychytu/opencga/internal/metadata/storetest"
)

func TestConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) metadata.Store {
		return memory.NewStore()
	})
}
