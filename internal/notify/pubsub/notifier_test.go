package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/proxyfetch/internal/fetch"
)

func TestNotifyRefreshPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "refreshes")
	require.NoError(t, err)

	n := New(topic)
	n.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer n.Stop()

	diff := fetch.Diff{Before: 1, After: 2, Added: 1, Retained: 1}
	require.NoError(t, n.NotifyRefresh(ctx, diff))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventType, msgs[0].Attributes["event"])

	var got Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, diff, got.Diff)
	require.Equal(t, n.now(), got.RefreshedAt)
}

func TestNotifyRefreshWithoutTopic(t *testing.T) {
	t.Parallel()

	require.Error(t, New(nil).NotifyRefresh(context.Background(), fetch.Diff{}))
}
