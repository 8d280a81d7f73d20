package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

func TestArchiver_Run_archivesOnTick(t *testing.T) {
	st, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.History.Append(ctx, "admin", "login", "test entry"))

	a := New(st.History)
	a.Retention = 0 // an entry is "old" once the clock passes its (second-resolution) timestamp
	a.Interval = 10 * time.Millisecond

	runCtx, cancel := context.WithCancel(ctx)

	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	require.Eventually(t, func() bool {
		recent, err := st.History.Recent(ctx, 10)
		return err == nil && len(recent) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
