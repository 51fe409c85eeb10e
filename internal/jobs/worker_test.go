package jobs

import (
	"context"
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

// MockJobPurger is a mock implementation of JobPurger
type MockJobPurger struct {
	mock.Mock
}

func (m *MockJobPurger) PurgeTerminal(olderThan time.Duration) int {
	args := m.Called(olderThan)
	return args.Int(0)
}

func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestRetentionSweeper_ProcessJobs(t *testing.T) {
	mockPurger := new(MockJobPurger)
	mockPurger.On("PurgeTerminal", time.Minute).Return(2)

	sweeper := NewRetentionSweeper(mockPurger, time.Minute)

	err := sweeper.ProcessJobs(context.Background())
	assert.NoError(t, err)
	mockPurger.AssertExpectations(t)
}

func TestRetentionSweeper_ProcessJobs_NothingToPurge(t *testing.T) {
	mockPurger := new(MockJobPurger)
	mockPurger.On("PurgeTerminal", time.Minute).Return(0)

	sweeper := NewRetentionSweeper(mockPurger, time.Minute)

	err := sweeper.ProcessJobs(context.Background())
	assert.NoError(t, err)
	mockPurger.AssertExpectations(t)
}
