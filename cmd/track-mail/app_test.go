package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TrackMail/config"
	"github.com/BearBump/TrackMail/internal/api/mailtrack_api"
	"github.com/BearBump/TrackMail/internal/broker/kafka"
	"github.com/BearBump/TrackMail/internal/broker/messages"
	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/fake"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/resendhttp"
	"github.com/BearBump/TrackMail/internal/integrations/mailer/sesmail"
	"github.com/BearBump/TrackMail/internal/services/health"
	"github.com/BearBump/TrackMail/internal/services/mailtrack"
	"github.com/BearBump/TrackMail/internal/storage/memtracking"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	messages [][]byte
	results  chan error
}

func (c *fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for _, m := range c.messages {
		c.results <- handler(nil, m)
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestApp(t *testing.T) (*mailtrack_api.MailTrackAPI, *mailtrack.Service, *memtracking.Storage) {
	t.Helper()
	st := memtracking.New()
	svc := mailtrack.New(st, fake.New(mailer.Message{BaseURL: "http://localhost"}), "pw")
	rep := health.New(st, st, time.Now()).WithEndpoints(mailtrack_api.Endpoints())
	return mailtrack_api.New(svc, rep, mailtrack_api.Options{}), svc, st
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRunTrackMail_ServesAndStops(t *testing.T) {
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	api, svc, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := trackMailOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: sw,
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runTrackMail(ctx, opts, api, svc, nil) }()

	base := "http://" + <-addrCh

	code, body := get(t, base+"/ping")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pong", body)

	code, body = get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunTrackMail_ConsumerAppliesOpens(t *testing.T) {
	api, svc, st := newTestApp(t)
	id, err := st.CreateTracking(context.Background())
	require.NoError(t, err)

	ok, _ := json.Marshal(messages.MailOpened{TrackingID: id, SourceIP: "10.1.1.1"})
	cons := &fakeConsumer{
		messages: [][]byte{ok, []byte("not json"), []byte(`{"tracking_id":""}`)},
		results:  make(chan error, 3),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackMail(ctx, trackMailOpts{
			httpAddr: "127.0.0.1:0",
			topic:    "mail.opened",
			onListen: func(string) { addrCh <- "" },
		}, api, svc, cons)
	}()
	<-addrCh

	require.NoError(t, <-cons.results)
	require.ErrorIs(t, <-cons.results, kafka.ErrSkipMessage)
	require.ErrorIs(t, <-cons.results, kafka.ErrSkipMessage)

	rec, err := st.GetTracking(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Opens)
	require.Equal(t, []string{"10.1.1.1"}, rec.ViewerIPs)

	cancel()
	require.Error(t, <-errCh)
}

type flakyApplier struct {
	failures int32
	calls    atomic.Int32
}

func (a *flakyApplier) ApplyOpenEvent(ctx context.Context, msg messages.MailOpened) error {
	if a.calls.Add(1) <= a.failures {
		return errors.New("db down")
	}
	return nil
}

func TestHandleMailOpened_StorageErrorIsRetried(t *testing.T) {
	a := &flakyApplier{failures: 2}
	h := handleMailOpened(context.Background(), a, time.Millisecond)

	require.NoError(t, h(nil, []byte(`{"tracking_id":"abc"}`)))
	require.Equal(t, int32(3), a.calls.Load())
}

func TestHandleMailOpened_StopsWithoutCommitOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &flakyApplier{failures: 1 << 30}
	h := handleMailOpened(ctx, a, 5*time.Millisecond)

	time.AfterFunc(20*time.Millisecond, cancel)
	err := h(nil, []byte(`{"tracking_id":"abc"}`))
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, kafka.ErrSkipMessage))
}

// brokenConsumer падает на каждом запуске, как при недоступной Kafka.
type brokenConsumer struct {
	starts atomic.Int32
}

func (c *brokenConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	c.starts.Add(1)
	return errors.New("kafka: broker unreachable")
}

func TestRunTrackMail_ConsumerFailureKeepsHTTPServing(t *testing.T) {
	api, svc, st := newTestApp(t)
	id, err := st.CreateTracking(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cons := &brokenConsumer{}
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackMail(ctx, trackMailOpts{
			httpAddr:     "127.0.0.1:0",
			topic:        "mail.opened",
			consumeRetry: 5 * time.Millisecond,
			onListen:     func(addr string) { addrCh <- addr },
		}, api, svc, cons)
	}()
	base := "http://" + <-addrCh

	require.Eventually(t, func() bool { return cons.starts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("runTrackMail returned while ctx alive: %v", err)
	default:
	}

	code, body := get(t, base+"/ping")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pong", body)

	code, body = get(t, base+"/track-mail/"+id)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body)

	rec, err := st.GetTracking(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Opens)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestNewMailer_SelectsProvider(t *testing.T) {
	cfg := &config.Config{}
	m, err := newMailer(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := m.(*fake.FakeClient)
	require.True(t, ok)

	cfg.Mail.Provider = "resend"
	cfg.Mail.ResendAPIKey = "re_x"
	m, err = newMailer(context.Background(), cfg)
	require.NoError(t, err)
	_, ok = m.(*resendhttp.Client)
	require.True(t, ok)

	cfg.Mail.Provider = "ses"
	cfg.Mail.SESRegion = "eu-west-1"
	cfg.Mail.SESAccessKey = "AKIA"
	cfg.Mail.SESSecretKey = "secret"
	m, err = newMailer(context.Background(), cfg)
	require.NoError(t, err)
	_, ok = m.(*sesmail.Client)
	require.True(t, ok)
}
