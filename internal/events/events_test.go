package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	e := New(KindCountdown, Countdown{OrderNo: "AB12CD34EF56GH", Remaining: 2}, ts)

	line, err := e.Encode()
	require.NoError(t, err)
	require.Equal(t, byte('\n'), line[len(line)-1], "encoded event must be newline terminated")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(line, &decoded))
	assert.Equal(t, "countdown", decoded["type"])
	assert.Equal(t, "2026-03-01T09:30:15Z", decoded["timestamp"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AB12CD34EF56GH", data["order_no"])
	assert.EqualValues(t, 2, data["remaining"])
}

func TestCapturedImages_OmitsEmptyFailures(t *testing.T) {
	b, err := json.Marshal(CapturedImages{OrderNo: "X", Paths: []string{"a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_no":"X","paths":["a"]}`, string(b))
}

func TestPublisherFunc(t *testing.T) {
	var got []Kind
	p := PublisherFunc(func(e Event) { got = append(got, e.Type) })
	p.Publish(New(KindLog, Log{Message: "hi"}, time.Now()))
	Discard.Publish(New(KindLog, nil, time.Now()))
	assert.Equal(t, []Kind{KindLog}, got)
}
