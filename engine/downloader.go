package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/megacli/megadl/mega"
)

// Downloader implements C6: it drives one Download from a resolved link
// through to a renamed, complete file on disk, fanning out over its byte
// ranges under a per-file concurrency budget.
type Downloader struct {
	client  *mega.Client
	cfg     mega.Config
	log     zerolog.Logger
	metrics *Metrics
}

// NewDownloader builds a Downloader bound to client.
func NewDownloader(client *mega.Client, cfg mega.Config, log zerolog.Logger, metrics *Metrics) *Downloader {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Downloader{client: client, cfg: cfg, log: log, metrics: metrics}
}

// Download resolves dl's signed URL, plans its byte ranges, and fetches
// them under a semaphore of weight perFileFanout, writing decrypted bytes
// directly into a ".partial" file at their final offsets (spec §4.5, §4.6).
// On success the partial file is renamed to its final path and its resume
// metadata is deleted; on failure or cancellation both are left in place
// for a future resume.
func (d *Downloader) Download(ctx context.Context, dl *Download, perFileFanout int) error {
	baseURL, size, err := d.client.ResolveDownloadURL(ctx, dl.Node)
	if err != nil {
		return err
	}

	destPath := filepath.Join(dl.DestDir, filepath.FromSlash(dl.RelPath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	partialPath := destPath + ".partial"
	metaPath := destPath + ".metadata"

	if size <= 0 {
		f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Rename(partialPath, destPath)
	}

	completed := LoadCompleted(metaPath, size)
	sectionSize := SectionSize(size, perFileFanout)
	ranges := Plan(size, sectionSize)

	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return err
		}
	}

	var (
		completedMu sync.Mutex
		sem         = semaphore.NewWeighted(int64(perFileFanout))
		wg          sync.WaitGroup
		errMu       sync.Mutex
		firstErr    error
	)

	recordErr := func(e error) {
		if e == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = e
		}
		errMu.Unlock()
	}

	for _, rng := range ranges {
		if _, done := completed[rng.Start]; done {
			dl.addBytes(rng.Len())
			continue
		}
		if dl.IsCancelled() || ctx.Err() != nil {
			break
		}

		rng := rng
		if err := sem.Acquire(ctx, 1); err != nil {
			recordErr(err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			err := d.fetchRange(ctx, dl, baseURL, rng, f, &completedMu, completed, metaPath, size)
			recordErr(err)
		}()
	}
	wg.Wait()

	closeErr := f.Close()

	if firstErr != nil {
		return firstErr
	}
	if dl.IsCancelled() {
		return mega.ECANCELLED
	}
	if closeErr != nil {
		return closeErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		return err
	}
	if err := DeleteMetadata(metaPath); err != nil {
		d.log.Warn().Err(err).Str("path", metaPath).Msg("engine: failed to remove resume metadata")
	}
	return nil
}

// fetchRange fetches, decrypts, and writes a single byte range, retrying
// network and short-read failures with the same exponential-backoff shape
// as the transport's cs retry loop (spec §4.3, §4.6), but with its own
// counter: each range owns its retry budget independently.
func (d *Downloader) fetchRange(
	ctx context.Context,
	dl *Download,
	baseURL string,
	rng Range,
	f *os.File,
	completedMu *sync.Mutex,
	completed map[int64]struct{},
	metaPath string,
	size int64,
) error {
	decrypter, err := mega.NewRangeDecrypter(dl.Node.AESKey, dl.Node.AESIV)
	if err != nil {
		return err
	}

	delay := d.cfg.MinRetryDelay
	var lastErr error

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > d.cfg.MaxRetryDelay {
				delay = d.cfg.MaxRetryDelay
			}
		}

		dl.waitIfPaused()
		if dl.IsCancelled() {
			return mega.ECANCELLED
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		buf, err := d.fetchOnce(ctx, baseURL, rng)
		if err != nil {
			lastErr = err
			d.log.Debug().Err(err).Int64("start", rng.Start).Int("attempt", attempt).Msg("engine: range fetch failed, retrying")
			continue
		}

		// fetchOnce can return a fully-read buffer even if Cancel() fired
		// right as the body finished draining; discard it here rather than
		// writing bytes for a task that's already been cancelled (spec
		// §5(iii), invariant 7).
		if dl.IsCancelled() {
			return mega.ECANCELLED
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		decrypter.ApplyAt(rng.Start, buf)

		if _, err := f.WriteAt(buf, rng.Start); err != nil {
			return err
		}

		dl.addBytes(rng.Len())
		d.metrics.BytesDownloaded.Add(float64(rng.Len()))

		completedMu.Lock()
		completed[rng.Start] = struct{}{}
		saveErr := SaveCompleted(metaPath, size, completed)
		completedMu.Unlock()
		if saveErr != nil {
			d.log.Warn().Err(saveErr).Str("path", metaPath).Msg("engine: failed to persist resume metadata")
		}
		return nil
	}

	return fmt.Errorf("%w: range %d-%d: %v", mega.EMAXRETRIES, rng.Start, rng.End, lastErr)
}

// fetchOnce performs one GET+read for rng and returns the raw (still
// encrypted) bytes, or an error if the transport, the read, or the byte
// count didn't match what was expected.
func (d *Downloader) fetchOnce(ctx context.Context, baseURL string, rng Range) ([]byte, error) {
	body, err := d.client.Transport().StreamRange(ctx, baseURL, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	buf := make([]byte, rng.Len())
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, fmt.Errorf("%w: short read: %v", mega.EBADRESP, err)
	}
	return buf, nil
}
