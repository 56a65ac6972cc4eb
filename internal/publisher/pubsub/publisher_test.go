package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	Session string `json:"session"`
	Stage   string `json:"stage"`
}

func (n notice) Attributes() map[string]string { return map[string]string{"stage": n.Stage} }

func (n notice) OrderingKey() string { return n.Session }

func newFakePublisher(t *testing.T, ordered bool) (*pstest.Server, *Publisher) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/p/topics/console"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "p", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pub := New(client.Publisher("console"), ordered)
	t.Cleanup(pub.Stop)
	return srv, pub
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	srv, pub := newFakePublisher(t, true)
	id, err := pub.Publish(context.Background(), "console-events", notice{Session: "s-1", Stage: "CONFIG_ACTIVATED"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "s-1", got.Session)
	require.Equal(t, "CONFIG_ACTIVATED", msgs[0].Attributes["stage"])
	require.Equal(t, "console-events", msgs[0].Attributes["topic"])
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	require.Equal(t, "s-1", msgs[0].OrderingKey)
}

func TestPublishWithoutOrderingDropsKey(t *testing.T) {
	t.Parallel()

	srv, pub := newFakePublisher(t, false)
	_, err := pub.Publish(context.Background(), "", notice{Session: "s-1"})
	require.NoError(t, err)
	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Empty(t, msgs[0].OrderingKey)
	require.NotContains(t, msgs[0].Attributes, "topic")
}

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, true).Publish(context.Background(), "t", notice{})
	require.Error(t, err)

	_, pub := newFakePublisher(t, false)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
