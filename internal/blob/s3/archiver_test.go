package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	paths  []string
	bodies [][]byte
	types  []string
	err    error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.paths = append(m.paths, path)
	m.bodies = append(m.bodies, b)
	m.types = append(m.types, contentType)
	return nil
}

func TestPositionArchiver_ArchivePosition(t *testing.T) {
	w := &memWriter{}
	a := NewPositionArchiver(w, "")
	at := time.Date(2025, 3, 7, 21, 15, 0, 42, time.UTC)
	a.now = func() time.Time { return at }

	pos := domain.Position{
		Ticker:       "X:BTCUSD",
		Side:         domain.SideLong,
		EntryPrice:   decimal.NewFromInt(60000),
		Quantity:     decimal.RequireFromString("0.5"),
		LockedProfit: decimal.NewFromInt(100),
		CurrentStop:  decimal.NewNullDecimal(decimal.NewFromInt(60200)),
	}
	require.NoError(t, a.ArchivePosition(context.Background(), pos, ReasonClosed))

	require.Len(t, w.paths, 1)
	assert.Equal(t, "positions/2025/03/07/X_BTCUSD-1741382100000000042.json", w.paths[0])
	assert.Equal(t, "application/json", w.types[0])

	var body struct {
		Reason   string          `json:"reason"`
		Position domain.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(w.bodies[0], &body))
	assert.Equal(t, ReasonClosed, body.Reason)
	assert.Equal(t, "X:BTCUSD", body.Position.Ticker)
	assert.True(t, body.Position.CurrentStop.Decimal.Equal(decimal.NewFromInt(60200)))
}

func TestPositionArchiver_WriterError(t *testing.T) {
	a := NewPositionArchiver(&memWriter{err: errors.New("boom")}, "archive/")
	err := a.ArchivePosition(context.Background(), domain.Position{Ticker: "ES"}, ReasonExpired)
	assert.ErrorContains(t, err, "boom")
}

func TestWriter_PutAgainstCompatibleEndpoint(t *testing.T) {
	type captured struct {
		method, path, contentType string
		body                      []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- captured{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: b}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := New(ctx, ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "trail-archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	a := NewPositionArchiver(NewWriter(client), "positions")
	require.NoError(t, a.ArchivePosition(ctx, domain.Position{Ticker: "MNQU2025"}, ReasonExpired))

	select {
	case c := <-got:
		assert.Equal(t, http.MethodPut, c.method)
		assert.Regexp(t, `^/trail-archive/positions/\d{4}/\d{2}/\d{2}/MNQU2025-\d+\.json$`, c.path)
		assert.Equal(t, "application/json", c.contentType)
		assert.Contains(t, string(c.body), `"reason":"expired"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no request received")
	}
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://minio:9000", endpointURL("https://minio:9000", false))
	assert.Equal(t, "https://e2.example.com", endpointURL("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", endpointURL("localhost:9000", false))
}

func TestClient_CheckBucket(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/trail-archive", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := New(ctx, ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "trail-archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, client.CheckBucket(ctx))

	status.Store(http.StatusNotFound)
	assert.Error(t, client.CheckBucket(ctx))
}
