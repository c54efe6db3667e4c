package fake

import (
	"context"
	"testing"

	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Send(t *testing.T) {
	c := New(mailer.Message{BaseURL: "http://localhost:7000"})
	require.NoError(t, c.Send(context.Background(), []string{"a@x.com"}, "id-1"))

	sent := c.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "id-1", sent[0].TrackingID)
	require.Equal(t, []string{"a@x.com"}, sent[0].Recipients)
	require.Contains(t, sent[0].HTML, "http://localhost:7000/track-mail/id-1")
}

func TestFakeClient_SendCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(mailer.Message{})
	require.Error(t, c.Send(ctx, []string{"a@x.com"}, "id-1"))
	require.Empty(t, c.Sent())
}
