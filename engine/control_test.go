package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/megacli/megadl/mega"
)

func testNode() *mega.Node {
	return &mega.Node{Handle: "h1", Kind: mega.KindFile, Name: "a.bin", Size: 1000}
}

func TestDownloadProgress(t *testing.T) {
	dl := NewDownload(testNode(), t.TempDir(), "a.bin")
	require.Equal(t, float64(0), dl.Progress())

	dl.addBytes(500)
	require.Equal(t, 0.5, dl.Progress())
}

func TestDownloadPauseBlocksWaiter(t *testing.T) {
	dl := NewDownload(testNode(), t.TempDir(), "a.bin")
	dl.state.Store(int32(StateActive))
	dl.Pause()
	require.True(t, dl.IsPaused())
	require.Equal(t, StatePaused, dl.State())

	unblocked := make(chan struct{})
	go func() {
		dl.waitIfPaused()
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("waitIfPaused returned while still paused")
	case <-time.After(50 * time.Millisecond):
	}

	dl.Resume()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("waitIfPaused did not unblock after Resume")
	}
	require.False(t, dl.IsPaused())
	require.Equal(t, StateActive, dl.State())
}

func TestDownloadCancelUnblocksWaiter(t *testing.T) {
	dl := NewDownload(testNode(), t.TempDir(), "a.bin")
	dl.Pause()

	unblocked := make(chan struct{})
	go func() {
		dl.waitIfPaused()
		close(unblocked)
	}()

	dl.Cancel()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("waitIfPaused did not unblock after Cancel")
	}
	require.True(t, dl.IsCancelled())
}

func TestDownloadSpeedSampler(t *testing.T) {
	dl := NewDownload(testNode(), t.TempDir(), "a.bin")
	dl.startSpeedSampler()
	dl.addBytes(1000)
	time.Sleep(600 * time.Millisecond)
	dl.stopSpeedSampler()

	require.Greater(t, dl.SpeedBytesPerSec(), float64(0))
}
