package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	pingErr  error
	count    int64
	countErr error
}

func (f fakeStore) Ping(ctx context.Context) error { return f.pingErr }
func (f fakeStore) CountTrackings(ctx context.Context) (int64, error) {
	return f.count, f.countErr
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestReporter_Connected(t *testing.T) {
	st := fakeStore{count: 3}
	started := time.Now().Add(-90 * time.Second)
	r := New(st, st, started).
		WithInfo("postgres", "direct").
		WithEndpoints(map[string]string{"ping": "GET /ping"})

	rep := r.Report(context.Background())
	require.Equal(t, StatusOK, rep.Status)
	require.Equal(t, DBConnected, rep.Database.Status)
	require.NotNil(t, rep.Database.TotalTrackings)
	require.Equal(t, int64(3), *rep.Database.TotalTrackings)
	require.GreaterOrEqual(t, rep.Server.UptimeSeconds, int64(89))
	require.Equal(t, "postgres", rep.Server.StorageDriver)
	require.NotZero(t, rep.Memory.Sys)
	require.Nil(t, rep.Cache)
	require.Equal(t, "GET /ping", rep.Endpoints["ping"])
}

func TestReporter_DatabaseDownIsDegraded(t *testing.T) {
	st := fakeStore{pingErr: errors.New("connection refused")}
	rep := New(st, st, time.Now()).Report(context.Background())

	require.Equal(t, StatusDegraded, rep.Status)
	require.Equal(t, DBDisconnected, rep.Database.Status)
	require.Nil(t, rep.Database.TotalTrackings)
	require.Contains(t, rep.Database.Error, "connection refused")
}

func TestReporter_CountErrorKeepsConnected(t *testing.T) {
	st := fakeStore{countErr: errors.New("statement timeout")}
	rep := New(st, st, time.Now()).Report(context.Background())

	require.Equal(t, StatusOK, rep.Status)
	require.Equal(t, DBConnected, rep.Database.Status)
	require.Nil(t, rep.Database.TotalTrackings)
	require.NotEmpty(t, rep.Database.Error)
}

func TestReporter_CacheDownIsDegraded(t *testing.T) {
	st := fakeStore{}
	rep := New(st, st, time.Now()).WithCache(fakePinger{err: errors.New("redis down")}).Report(context.Background())

	require.Equal(t, StatusDegraded, rep.Status)
	require.NotNil(t, rep.Cache)
	require.Equal(t, DBDisconnected, rep.Cache.Status)
	require.Equal(t, DBConnected, rep.Database.Status)
}

func TestReport_JSONShape(t *testing.T) {
	st := fakeStore{count: 1}
	rep := New(st, st, time.Now()).Report(context.Background())

	b, err := json.Marshal(rep)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"status", "timestamp", "server", "system", "memory", "database", "endpoints"} {
		require.Contains(t, m, k)
	}
	require.Equal(t, "connected", m["database"].(map[string]any)["status"])
}

func TestRenderHTML(t *testing.T) {
	st := fakeStore{count: 12}
	rep := New(st, st, time.Now()).
		WithEndpoints(map[string]string{"sendMail": "POST /send-mail", "health": "GET /health"}).
		Report(context.Background())

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, rep))
	out := buf.String()
	require.Contains(t, out, "<!DOCTYPE html>")
	require.Contains(t, out, "POST /send-mail")
	require.Contains(t, out, ">12<")
	require.Contains(t, out, "connected")
}

func TestHumanBytes(t *testing.T) {
	require.Equal(t, "512 B", humanBytes(512))
	require.Equal(t, "1.0 KiB", humanBytes(1024))
	require.Equal(t, "1.5 MiB", humanBytes(1536*1024))
}
