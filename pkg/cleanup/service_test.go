package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pruneCall struct {
	Cutoff   time.Time
	KeepLast int
}

type fakePruner struct {
	mu    sync.Mutex
	calls []pruneCall
	err   error
}

func (p *fakePruner) PruneOlderThan(ctx context.Context, cutoff time.Time, keepLast int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pruneCall{Cutoff: cutoff, KeepLast: keepLast})
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

func (p *fakePruner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestService_SweepAppliesRetentionPolicy(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(&RetentionConfig{
		ResultRetentionDays: 30,
		KeepPerTask:         20,
		SweepInterval:       1 * time.Hour,
	}, pruner)

	svc.sweep(context.Background())

	require.Equal(t, 1, pruner.callCount())
	call := pruner.calls[0]
	assert.Equal(t, 20, call.KeepLast)

	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, wantCutoff, call.Cutoff, time.Minute)
}

func TestService_SweepToleratesPruneFailure(t *testing.T) {
	pruner := &fakePruner{err: errors.New("connection refused")}
	svc := NewService(nil, pruner)

	// Must not panic; the next tick retries.
	svc.sweep(context.Background())
	svc.sweep(context.Background())
	assert.Equal(t, 2, pruner.callCount())
}

func TestService_DefaultConfig(t *testing.T) {
	cfg := DefaultRetentionConfig()
	assert.Equal(t, 30, cfg.ResultRetentionDays)
	assert.Equal(t, 20, cfg.KeepPerTask)
	assert.Equal(t, 1*time.Hour, cfg.SweepInterval)

	svc := NewService(nil, &fakePruner{})
	assert.Equal(t, 30, svc.config.ResultRetentionDays)
}

func TestService_StartSweepsImmediatelyAndStops(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(&RetentionConfig{
		ResultRetentionDays: 30,
		KeepPerTask:         20,
		SweepInterval:       10 * time.Millisecond,
	}, pruner)

	svc.Start(context.Background())
	// Second Start is a no-op while running.
	svc.Start(context.Background())

	require.Eventually(t, func() bool { return pruner.callCount() >= 2 },
		time.Second, 5*time.Millisecond)
	svc.Stop()

	before := pruner.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, pruner.callCount())
}
