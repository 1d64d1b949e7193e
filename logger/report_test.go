package logger

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCountsCallbacksAndChannels(t *testing.T) {
	resetReport()

	RecordCallbackEvent("DATA")
	RecordCallbackEvent("DATA")
	RecordCallbackEvent("NOTIFY")
	RecordChannelMessage("streamer_ws", 120)
	RecordChannelMessage("streamer_ws", 30)

	r := Snapshot()
	assert.Equal(t, int64(2), r.Callbacks["DATA"])
	assert.Equal(t, int64(1), r.Callbacks["NOTIFY"])
	assert.Equal(t, map[string]int64{"messages": 2, "bytes": 150}, r.Channels["streamer_ws"])
	assert.Positive(t, r.Goroutines)
	assert.Equal(t, []string{"streamer_ws"}, ChannelNames())
}

func TestStartReportPublishes(t *testing.T) {
	resetReport()
	RecordCallbackEvent("DATA")

	got := make(chan Report, 1)
	SetReportPublisher(func(_ context.Context, r Report) {
		select {
		case got <- r:
		default:
		}
	})
	defer SetReportPublisher(nil)

	log := Logger()
	log.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReport(ctx, log, 10*time.Millisecond)

	select {
	case r := <-got:
		require.NotNil(t, r.Callbacks)
		assert.Equal(t, int64(1), r.Callbacks["DATA"])
	case <-time.After(time.Second):
		t.Fatal("report was not published")
	}
}

func TestStartReportIgnoresNonPositiveInterval(t *testing.T) {
	StartReport(context.Background(), Logger(), 0)
}
