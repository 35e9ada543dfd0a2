package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/megacli/megadl/mega"
)

// newZeroSizeServer serves a `cs` Download response for an always-empty
// file, letting pool tests exercise dispatch/lifecycle without needing to
// serve real range bytes.
func newZeroSizeServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/cs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"g":"unused","s":0}]`)
	})
	return httptest.NewServer(mux)
}

func TestPoolRunsDownloadsToCompletion(t *testing.T) {
	srv := newZeroSizeServer()
	defer srv.Close()

	cfg := mega.DefaultConfig()
	cfg.APIURL = srv.URL + "/cs"
	cfg.MaxWorkers = 2
	cfg.ConcurrencyBudget = 2

	client, err := mega.NewClient(cfg, testLogger())
	require.NoError(t, err)

	pool := NewPool(cfg, client, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(runDone)
	}()

	destDir := t.TempDir()
	const n = 3
	for i := 0; i < n; i++ {
		node := &mega.Node{Handle: fmt.Sprintf("h%d", i), RootHandle: fmt.Sprintf("h%d", i), Kind: mega.KindFile, Name: fmt.Sprintf("f%d.bin", i)}
		pool.Submit(NewDownload(node, destDir, fmt.Sprintf("f%d.bin", i)))
	}

	seenInactive := 0
	for seenInactive < n {
		select {
		case ev := <-pool.Events():
			if ev.Type == EventInactive {
				seenInactive++
				require.Equal(t, StateDone, ev.Download.State())
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for downloads to finish")
		}
	}

	cancel()
	<-runDone
	pool.Shutdown()
}

func TestPoolCancelAllStopsQueuedAndActive(t *testing.T) {
	srv := newZeroSizeServer()
	defer srv.Close()

	cfg := mega.DefaultConfig()
	cfg.APIURL = srv.URL + "/cs"
	cfg.MaxWorkers = 1
	cfg.ConcurrencyBudget = 1

	client, err := mega.NewClient(cfg, testLogger())
	require.NoError(t, err)

	pool := NewPool(cfg, client, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(runDone)
	}()

	destDir := t.TempDir()
	node := &mega.Node{Handle: "h1", RootHandle: "h1", Kind: mega.KindFile, Name: "f.bin"}
	dl := NewDownload(node, destDir, "f.bin")
	pool.Submit(dl)

	pool.CancelAll()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down after CancelAll")
	}
	pool.Shutdown()
}
