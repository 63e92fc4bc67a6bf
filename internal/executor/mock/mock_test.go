package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/rockwatch/internal/executor"
	"github.com/kiranshivaraju/rockwatch/internal/executor/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() executor.Request {
	return executor.Request{JobID: "job-1", Kind: "sensorA"}
}

func TestMockExecutor_Defaults(t *testing.T) {
	m := mock.NewMockExecutor()

	res, err := m.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.Payload["analysis_id"])
	assert.Equal(t, "sensorA", res.Payload["kind"])
	assert.Equal(t, 1, m.Calls())
}

func TestMockExecutor_ZeroValue(t *testing.T) {
	var m mock.MockExecutor
	res, err := m.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.NotNil(t, res.Payload)
}

func TestFailingExecutor(t *testing.T) {
	want := errors.New("kernel died")
	_, err := mock.NewFailingExecutor(want).Execute(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, want)
}

func TestBlockingExecutor_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mock.NewBlockingExecutor().Execute(ctx, sampleRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGatedExecutor(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	m := mock.NewGatedExecutor(started, release)

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), sampleRequest())
		done <- err
	}()

	assert.Equal(t, "job-1", <-started)
	select {
	case <-done:
		t.Fatal("gated run finished before release")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
}

func TestPanickingExecutor(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		_, _ = mock.NewPanickingExecutor("boom").Execute(context.Background(), sampleRequest())
	})
}
