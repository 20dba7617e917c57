package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

func TestPubSubSinkPublishesEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "docsynapse-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	topic, err := client.CreateTopic(ctx, "progress")
	require.NoError(t, err)

	sink := NewPubSubSink(topic)
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageFetchDone, Site: "a.dev", StatusClass: progress.Status2xx, Bytes: 42},
	}))
	require.NoError(t, sink.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	stages := map[string]bool{}
	for _, m := range msgs {
		assert.Equal(t, "job-1", m.Attributes["job_id"])
		stages[m.Attributes["stage"]] = true
		var evt progress.Event
		require.NoError(t, json.Unmarshal(m.Data, &evt))
		assert.Equal(t, "job-1", evt.JobID)
	}
	assert.True(t, stages[string(progress.StageJobStart)])
	assert.True(t, stages[string(progress.StageFetchDone)])
}

func TestPubSubSinkWithoutTopic(t *testing.T) {
	t.Parallel()
	sink := NewPubSubSink(nil)
	require.Error(t, sink.Consume(context.Background(), nil))
	require.NoError(t, sink.Close(context.Background()))
}
