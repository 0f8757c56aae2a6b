package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestWorker_ProcessesOnTick(t *testing.T) {
	processor := new(MockJobProcessor)

	var wg sync.WaitGroup
	wg.Add(1)
	var once sync.Once
	processor.On("ProcessJobs", mock.Anything).Run(func(args mock.Arguments) {
		once.Do(wg.Done)
	}).Return(nil)

	worker := NewWorker("test", processor, 10*time.Millisecond)
	go worker.Start(context.Background())

	wg.Wait()
	worker.Stop()

	processor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_StopBeforeFirstTick(t *testing.T) {
	processor := new(MockJobProcessor)

	worker := NewWorker("test", processor, time.Hour)
	go worker.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	worker.Stop()

	processor.AssertNotCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_ContextCancelStops(t *testing.T) {
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker("test", processor, time.Hour)

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_ContinuesAfterProcessorError(t *testing.T) {
	processor := new(MockJobProcessor)

	var mu sync.Mutex
	calls := 0
	processor.On("ProcessJobs", mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		calls++
		mu.Unlock()
	}).Return(errors.New("boom"))

	worker := NewWorker("test", processor, 10*time.Millisecond)
	go worker.Start(context.Background())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond, "worker keeps polling after errors")

	worker.Stop()
}
