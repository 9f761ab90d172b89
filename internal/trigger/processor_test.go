package trigger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/observability/alerting"
	"VaultPilot/internal/pipeline"
	"VaultPilot/internal/record"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) snapshot() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

type fakeExecutor struct {
	processed atomic.Int32
	err       error
	latency   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.processed.Add(1)
	return &pipeline.Outcome{
		RequestID:  req.RequestID,
		StrategyID: req.StrategyID,
		Network:    req.Network.Name,
	}, nil
}

func testResolver(name string) (web3.Context, error) {
	return web3.Context{
		Name:        name,
		Vault:       common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Pool:        common.HexToAddress("0x1000000000000000000000000000000000000002"),
		Token:       common.HexToAddress("0x1000000000000000000000000000000000000003"),
		Anchor:      common.HexToAddress("0x1000000000000000000000000000000000000004"),
		CurrentRate: 7.5,
	}, nil
}

func registerTestStrategy(t *testing.T, store strategy.Store) *strategy.Record {
	t.Helper()
	s, err := strategy.Parse([]byte(`{
		"assetAllocation": {"lendingProtocol": 70},
		"lendingProtocol": {"investmentCondition": "APY > 5%"},
		"rebalancing": {"frequency": "weekly"}
	}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	rec, err := store.Register(context.Background(), "sepolia", s)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return rec
}

func TestProcessorHandlesConcurrentTriggers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records := record.NewMemoryStore()
	strategies := strategy.NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	stratRec := registerTestStrategy(t, strategies)

	service := NewService(records, strategies, queue, 3)
	processor := NewProcessor(executor, records, strategies, queue, queue, testResolver, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		req := SubmitRequest{RequestID: fmt.Sprintf("exec-%d", i), StrategyID: stratRec.ID}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("triggers not processed in time, done %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	records := record.NewMemoryStore()
	strategies := strategy.NewMemoryStore()
	queue := NewMemoryQueue(16)
	stratRec := registerTestStrategy(t, strategies)

	service := NewService(records, strategies, queue, 3)

	first, err := service.Submit(ctx, SubmitRequest{RequestID: "exec-idem", StrategyID: stratRec.ID})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{RequestID: "exec-idem", StrategyID: stratRec.ID})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same record, got %s and %s", first.ID, second.ID)
	}

	// 只应入队一次。
	drained := 0
	for {
		select {
		case <-queue.ch:
			drained++
		default:
			if drained != 1 {
				t.Fatalf("expected exactly one enqueued request, got %d", drained)
			}
			return
		}
	}
}

func TestServiceSubmitGeneratesRequestID(t *testing.T) {
	ctx := context.Background()
	records := record.NewMemoryStore()
	strategies := strategy.NewMemoryStore()
	stratRec := registerTestStrategy(t, strategies)

	service := NewService(records, strategies, NewMemoryQueue(16), 3)
	rec, err := service.Submit(ctx, SubmitRequest{StrategyID: stratRec.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Status != record.StatusPending {
		t.Fatalf("expected pending status, got %s", rec.Status)
	}
}

func TestServiceSubmitRejectsUnknownStrategy(t *testing.T) {
	service := NewService(record.NewMemoryStore(), strategy.NewMemoryStore(), NewMemoryQueue(16), 3)
	if _, err := service.Submit(context.Background(), SubmitRequest{StrategyID: 42}); !stdErrors.Is(err, strategy.ErrStrategyNotFound) {
		t.Fatalf("expected strategy not found, got %v", err)
	}
}

func TestProcessorMarksFailureAndStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records := record.NewMemoryStore()
	strategies := strategy.NewMemoryStore()
	queue := NewMemoryQueue(16)
	stratRec := registerTestStrategy(t, strategies)

	executor := &fakeExecutor{err: xerrors.New(pipeline.CodeRequestRejected, "请求被拒绝")}
	service := NewService(records, strategies, queue, 3)
	processor := NewProcessor(executor, records, strategies, queue, queue, testResolver)

	go func() { _ = processor.Start(ctx) }()

	rec, err := service.Submit(ctx, SubmitRequest{RequestID: "exec-fail", StrategyID: stratRec.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		got, err := records.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == record.StatusFailed {
			if got.ErrorCode != string(pipeline.CodeRequestRejected) {
				t.Fatalf("unexpected error code %s", got.ErrorCode)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("record never failed, status %s", got.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorDispatchesAlertOnFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records := record.NewMemoryStore()
	strategies := strategy.NewMemoryStore()
	queue := NewMemoryQueue(16)
	stratRec := registerTestStrategy(t, strategies)

	dispatcher := &recordingDispatcher{}
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeChainExecution, "提交批量交易失败")}
	service := NewService(records, strategies, queue, 3)
	processor := NewProcessor(executor, records, strategies, queue, queue, testResolver,
		WithAlertDispatcher(dispatcher))

	go func() { _ = processor.Start(ctx) }()

	rec, err := service.Submit(ctx, SubmitRequest{RequestID: "exec-alert", StrategyID: stratRec.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		events := dispatcher.snapshot()
		if len(events) > 0 {
			event := events[0]
			if event.Code != xerrors.CodeChainExecution {
				t.Fatalf("unexpected alert code %s", event.Code)
			}
			if event.RequestID != rec.ID {
				t.Fatalf("unexpected alert request id %s", event.RequestID)
			}
			if event.Metadata["stage"] == "" {
				t.Fatalf("alert must carry the failure stage, got %v", event.Metadata)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("dispatcher never received an alert event")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
