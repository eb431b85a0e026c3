package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/api/schemas"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
)

type stubProcessor struct {
	mu       sync.Mutex
	calls    int
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   string
}

func (p *stubProcessor) Process(ctx context.Context, text string) (*schemas.ExtractionResult, error) {
	cur := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.failOn != "" && strings.Contains(text, p.failOn) {
		return nil, errors.New("processing blew up")
	}
	return &schemas.ExtractionResult{
		ExtractionID: "ex-" + text,
		Metadata:     schemas.Metadata{EntitiesFound: 1},
	}, nil
}

type stubPersister struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (p *stubPersister) PersistResult(_ context.Context, res *schemas.ExtractionResult) error {
	if p.fail {
		return errors.New("db down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, res.ExtractionID)
	return nil
}

func docs(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{ID: fmt.Sprintf("d%d", i+1), Name: fmt.Sprintf("report-%d.txt", i+1), Text: fmt.Sprintf("text-%d", i+1)}
	}
	return out
}

func TestRunProcessesAllDocuments(t *testing.T) {
	proc := &stubProcessor{}
	e := New(config.EngineConfig{WorkerConcurrency: 3}, proc, nil, zap.NewNop())

	results := e.Run(context.Background(), docs(7))
	require.Len(t, results, 7)

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("d%d", i+1), r.Document.ID, "results must preserve input order")
		require.NoError(t, r.Err)
		require.NotNil(t, r.Result)
		assert.Equal(t, "ex-"+r.Document.Text, r.Result.ExtractionID)
	}
	assert.Equal(t, 7, proc.calls)
}

func TestRunLimitsConcurrency(t *testing.T) {
	proc := &stubProcessor{delay: 20 * time.Millisecond}
	e := New(config.EngineConfig{WorkerConcurrency: 2}, proc, nil, zap.NewNop())

	e.Run(context.Background(), docs(8))
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
}

func TestRunIsolatesFailures(t *testing.T) {
	proc := &stubProcessor{failOn: "text-2"}
	e := New(config.EngineConfig{WorkerConcurrency: 1}, proc, nil, zap.NewNop())

	results := e.Run(context.Background(), docs(3))
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.Nil(t, results[1].Result)
	assert.NoError(t, results[2].Err, "a failing document must not poison the rest of the batch")
}

func TestRunPersistsResults(t *testing.T) {
	t.Run("every result reaches the persister", func(t *testing.T) {
		proc := &stubProcessor{}
		per := &stubPersister{}
		e := New(config.EngineConfig{WorkerConcurrency: 2}, proc, per, zap.NewNop())

		e.Run(context.Background(), docs(4))
		assert.Len(t, per.ids, 4)
	})

	t.Run("persist failure does not fail the document", func(t *testing.T) {
		proc := &stubProcessor{}
		per := &stubPersister{fail: true}
		e := New(config.EngineConfig{WorkerConcurrency: 1}, proc, per, zap.NewNop())

		results := e.Run(context.Background(), docs(1))
		require.Len(t, results, 1)
		assert.NoError(t, results[0].Err)
		assert.NotNil(t, results[0].Result)
	})
}

func TestRunCancelledContext(t *testing.T) {
	proc := &stubProcessor{delay: 50 * time.Millisecond}
	e := New(config.EngineConfig{WorkerConcurrency: 1}, proc, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	results := e.Run(ctx, docs(5))
	require.Len(t, results, 5)

	var cancelled int
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "pending documents must report cancellation")
}

func TestRunEmptyBatch(t *testing.T) {
	e := New(config.EngineConfig{WorkerConcurrency: 4}, &stubProcessor{}, nil, zap.NewNop())
	assert.Empty(t, e.Run(context.Background(), nil))
}

func TestRunDefaultConcurrency(t *testing.T) {
	proc := &stubProcessor{}
	e := New(config.EngineConfig{}, proc, nil, zap.NewNop())

	results := e.Run(context.Background(), docs(2))
	require.Len(t, results, 2)
	assert.Equal(t, 2, proc.calls)
}
