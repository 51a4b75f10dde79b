// Package transfer performs the actual byte acquisition for one download
// task: it classifies the resolved URL as a plain file or an HLS manifest,
// streams the bytes through the shared bandwidth limiter with progress
// accounting, decrypts AES-128 segments, and hands finished transport streams
// to the remuxer.
package transfer

import (
	"bufio"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"epifetch/internal/fetch"
	"epifetch/internal/logger"
	"epifetch/internal/progress"
	"epifetch/internal/remux"
)

// copyChunkSize is the read granularity of every transfer.
const copyChunkSize = 65536

// Transferer runs downloads against one fetch policy, one shared bandwidth
// limiter and one progress registry. It is safe for concurrent use.
type Transferer struct {
	client   *fetch.Client
	limiter  *rate.Limiter // nil means unlimited
	registry *progress.Registry
	remuxer  *remux.Remuxer
}

// New assembles a Transferer. limiter may be nil for unthrottled transfers
// and remuxer may be disabled.
func New(client *fetch.Client, limiter *rate.Limiter, registry *progress.Registry, remuxer *remux.Remuxer) *Transferer {
	return &Transferer{
		client:   client,
		limiter:  limiter,
		registry: registry,
		remuxer:  remuxer,
	}
}

// IsHLSURL reports whether the URL path names an m3u8 playlist: a final
// segment with a non-empty stem and a .m3u8 or .m3u suffix, case-insensitive.
func IsHLSURL(u *url.URL) bool {
	segments := strings.Split(u.Path, "/")
	last := strings.ToLower(segments[len(segments)-1])

	for _, ext := range []string{".m3u8", ".m3u"} {
		if strings.HasSuffix(last, ext) && len(last) > len(ext) {
			return true
		}
	}

	return false
}

// DownloadToFile executes one task to completion.
func (t *Transferer) DownloadToFile(ctx context.Context, task Task) error {
	resp, err := t.client.Fetch(ctx, task.URL, fetch.Options{Referer: task.Referer})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	isHLS := IsHLSURL(resp.FinalURL)

	outputPath := task.OutputPath
	if !task.OutputPathHasExtension {
		if isHLS {
			outputPath += ".ts"
		} else {
			outputPath += ".mp4"
		}
	}

	message := task.Message
	if message == "" {
		finalPath := outputPath
		if isHLS {
			finalPath = remux.MP4Path(outputPath)
		}
		message = filepath.Base(finalPath)
	}

	file, err := openTarget(outputPath, task.Overwrite)
	if err != nil {
		return stageErr("failed to open download target file", err)
	}
	defer file.Close()

	if isHLS {
		return t.hlsDownload(ctx, resp, task.Referer, file, outputPath, message)
	}

	return t.simpleDownload(ctx, resp, file, message)
}

// openTarget creates the output file. Without overwrite, an existing file is
// a hard error; collisions are protection, not a nuisance.
func openTarget(path string, overwrite bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	return os.OpenFile(path, flags, 0o644)
}

// simpleDownload streams a progressive file straight to disk.
func (t *Transferer) simpleDownload(ctx context.Context, resp *fetch.Response, file *os.File, message string) error {
	length := resp.ContentLength
	if length < 0 {
		length = progress.UnknownLength
	}

	handle := t.registry.Register(message, length)
	reader := t.limitReader(ctx, resp.Body)
	writer := bufio.NewWriter(file)

	var downloaded int64

	buf := make([]byte, copyChunkSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := writer.Write(buf[:n]); werr != nil {
				handle.Abandon()
				return stageErr("failed writing to download file", werr)
			}

			downloaded += int64(n)
			handle.Update(downloaded, length)
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			handle.Abandon()
			return stageErr("failed download", err)
		}
	}

	// Replace the estimate with the exact total; Content-Length may have
	// been absent or wrong.
	handle.Update(downloaded, downloaded)

	if err := cleanUpWrite(writer, file); err != nil {
		handle.Finish()
		return err
	}

	handle.Finish()

	return nil
}

// cleanUpWrite flushes buffered data and syncs the file to disk.
func cleanUpWrite(writer *bufio.Writer, file *os.File) error {
	if err := writer.Flush(); err != nil {
		return stageErr("failed flushing to download file", err)
	}

	if err := file.Sync(); err != nil {
		return stageErr("failed syncing download file to disk", err)
	}

	return nil
}

// limitReader routes reads through the shared bandwidth gate so aggregate
// throughput across all concurrent transfers stays capped.
func (t *Transferer) limitReader(ctx context.Context, r io.Reader) io.Reader {
	if t.limiter == nil {
		return r
	}

	return &limitedReader{r: r, limiter: t.limiter, ctx: ctx}
}

type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}

// remuxAfterDownload converts the finished transport stream to MP4. All
// failures are soft: the raw file stays on disk, siblings are unaffected.
func (t *Transferer) remuxAfterDownload(ctx context.Context, rawPath string) {
	if !t.remuxer.Enabled() {
		logger.Infof("Keeping %q as transport stream: no remux binary configured", filepath.Base(rawPath))
		return
	}

	if err := t.remuxer.Remux(ctx, rawPath); err != nil {
		logger.Warnf("%v", err)
		return
	}

	if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to delete raw input file after remux: %v", err)
	}
}
