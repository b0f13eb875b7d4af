package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/strapctl/internal/ble"
)

type published struct {
	subject string
	payload []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (p *fakePublisher) Publish(subject string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		out = append(out, m)
	}
	return out
}

func TestReadingObserver_MapsEveryCallback(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got []Reading
	var o ble.Observer = readingObserver{
		emit: func(r Reading) { got = append(got, r) },
		now:  func() time.Time { return fixed },
	}

	o.OnConnect()
	o.OnConnectFailure(errors.New("no adapter"))
	o.OnDisconnect()
	o.OnBattery(87.5)
	o.OnVersion("1.2.3.4", "5.6.7.8")
	o.OnCharging(true)
	o.OnWorn(false)
	o.OnClock(1700000000)
	o.OnHeartRate(72)
	o.OnNotification("Double tap detected")
	o.OnLog("AB")
	o.OnError(errors.New("boom"))

	want := []Reading{
		{Kind: KindConnect},
		{Kind: KindConnectFailure, Error: "no adapter"},
		{Kind: KindDisconnect},
		{Kind: KindBattery, Value: 87.5},
		{Kind: KindVersion, Value: Version{Harvard: "1.2.3.4", Boylston: "5.6.7.8"}},
		{Kind: KindCharging, Value: true},
		{Kind: KindWorn, Value: false},
		{Kind: KindClock, Value: uint32(1700000000)},
		{Kind: KindHeartRate, Value: uint8(72)},
		{Kind: KindNotification, Message: "Double tap detected"},
		{Kind: KindLog, Message: "AB"},
		{Kind: KindError, Error: "boom"},
	}
	for i := range want {
		want[i].Time = fixed
	}
	assert.Equal(t, want, got)
}

func TestRecorder_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)

	r.OnHeartRate(64)
	r.OnVersion("1.0.0.0", "2.0.0.0")
	r.OnError(errors.New("transfer failed"))
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 3)

	assert.Equal(t, "heart_rate", lines[0]["kind"])
	assert.Equal(t, float64(64), lines[0]["value"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Contains(t, lines[0], "time")

	assert.Equal(t, map[string]any{"harvard": "1.0.0.0", "boylston": "2.0.0.0"}, lines[1]["value"])

	assert.Equal(t, "error", lines[2]["level"])
	assert.Equal(t, "transfer failed", lines[2]["error"])
}

func TestOpenRecorder_AppendsAndCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "readings.jsonl")

	r, err := OpenRecorder(path)
	require.NoError(t, err)
	r.OnBattery(50)
	require.NoError(t, r.Close())

	r, err = OpenRecorder(path)
	require.NoError(t, err)
	r.OnBattery(49)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := decodeLines(t, data)
	require.Len(t, lines, 2)
	assert.Equal(t, float64(50), lines[0]["value"])
	assert.Equal(t, float64(49), lines[1]["value"])
}

func TestOpenRecorder_BadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err := OpenRecorder(filepath.Join(blocker, "readings.jsonl"))
	assert.Error(t, err)
}

func TestForwarder_Subjects(t *testing.T) {
	assert.Equal(t, "strap.heart_rate", NewNATSForwarder(&fakePublisher{}, "strap").Subject(KindHeartRate))
	assert.Equal(t, "home/strap/battery", NewMQTTForwarder(&fakePublisher{}, "home/strap").Subject(KindBattery))
}

func TestForwarder_CallbacksDoNotBlock(t *testing.T) {
	pub := &fakePublisher{}
	f := NewNATSForwarder(pub, "strap")

	f.OnHeartRate(70)
	f.OnHeartRate(71)

	assert.Equal(t, 2, f.Pending())
	assert.Empty(t, pub.messages(), "nothing is published before Run")
}

func TestForwarder_RunPublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	f := NewMQTTForwarder(pub, "strap")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.OnConnect()
	f.OnHeartRate(80)
	f.OnCharging(true)

	require.Eventually(t, func() bool { return len(pub.messages()) == 3 },
		time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msgs := pub.messages()
	assert.Equal(t, "strap/connect", msgs[0].subject)
	assert.Equal(t, "strap/heart_rate", msgs[1].subject)
	assert.Equal(t, "strap/charging", msgs[2].subject)

	var r Reading
	require.NoError(t, json.Unmarshal(msgs[1].payload, &r))
	assert.Equal(t, KindHeartRate, r.Kind)
	assert.Equal(t, float64(80), r.Value)
	assert.False(t, r.Time.IsZero())
}

func TestForwarder_FlushesOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	f := NewNATSForwarder(pub, "strap")

	f.OnBattery(10)
	f.OnBattery(9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	assert.Len(t, pub.messages(), 2)
	assert.Zero(t, f.Pending())
}

func TestForwarder_PublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	f := NewNATSForwarder(pub, "strap")

	f.OnBattery(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	assert.Zero(t, f.Pending(), "failed readings are dropped, not retried")
}
