package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(f.err)
		return cmd
	}
	data, _ := message.([]byte)
	f.msgs = append(f.msgs, published{channel: channel, payload: data})
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkPublishesPerJobChannel(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{}
	sink := NewRedisSink(client, "")
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-2", TS: now, Stage: progress.StageJobDone, Dur: time.Second},
	}))

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "docsynapse.events:job-1", client.msgs[0].channel)
	assert.Equal(t, "docsynapse.events:job-2", client.msgs[1].channel)

	var evt progress.Event
	require.NoError(t, json.Unmarshal(client.msgs[1].payload, &evt))
	assert.Equal(t, progress.StageJobDone, evt.Stage)
	assert.Equal(t, time.Second, evt.Dur)

	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, client.closed)
}

func TestRedisSinkReportsFailures(t *testing.T) {
	t.Parallel()

	sink := NewRedisSink(&fakeRedis{err: errors.New("connection refused")}, "custom")
	assert.Equal(t, "custom:job-9", sink.Channel("job-9"))
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-9", TS: time.Now(), Stage: progress.StageJobStart},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
