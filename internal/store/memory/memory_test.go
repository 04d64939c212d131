package memory

import (
	"testing"

	"anomalyd/internal/store"
	"anomalyd/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return New() })
}
