package memory

import (
	"testing"

	"moneymanager/internal/store"
	"moneymanager/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
