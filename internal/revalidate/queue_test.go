package revalidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Job {
	t.Helper()
	select {
	case job, ok := <-sub.Jobs():
		require.True(t, ok, "subscription closed")
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
		return Job{}
	}
}

func TestJobsFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := JobsFor(42, now)
	require.Len(t, jobs, 2)
	assert.Equal(t, "/", jobs[0].Path)
	assert.Equal(t, "/streamers/42", jobs[1].Path)
	assert.Equal(t, int64(42), jobs[1].StreamerID)
}

func TestMemoryQueueDeliversToOneSubscriber(t *testing.T) {
	queue := NewMemoryQueue(4)
	sub := queue.Subscribe()
	defer sub.Close()

	require.NoError(t, queue.Publish(context.Background(), Job{Path: "/streamers/1"}))
	assert.Equal(t, "/streamers/1", receive(t, sub).Path)
}

func TestMemoryQueueIsBounded(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Publish(context.Background(), Job{Path: "/"}))
	assert.ErrorIs(t, queue.Publish(context.Background(), Job{Path: "/"}), ErrQueueFull)
}

func TestMemoryQueueRejectsRelativePaths(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.Error(t, queue.Publish(context.Background(), Job{Path: "streamers/1"}))
}

func TestMemorySubscriptionCloseEndsJobs(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.Jobs():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("jobs channel not closed")
	}

	// Jobs published after the close wait for the next subscriber.
	require.NoError(t, queue.Publish(context.Background(), Job{Path: "/"}))
	next := queue.Subscribe()
	defer next.Close()
	assert.Equal(t, "/", receive(t, next).Path)
}
