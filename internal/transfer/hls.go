package transfer

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"strings"

	"github.com/grafov/m3u8"

	"epifetch/internal/fetch"
	"epifetch/internal/hlsdec"
	"epifetch/internal/progress"
)

// hlsDownload drives a full playlist transfer: manifest resolution, variant
// selection, per-segment decryption and the running size estimate.
func (t *Transferer) hlsDownload(ctx context.Context, resp *fetch.Response, referer string, file *os.File, outputPath, message string) error {
	mp, playlistURL, err := t.resolveMediaPlaylist(ctx, resp, referer)
	if err != nil {
		return err
	}

	if mp.Iframe {
		return ErrIframePlaylist
	}

	handle := t.registry.Register(message, progress.UnknownLength)
	writer := bufio.NewWriter(file)
	keys := newKeyCache(t, referer)

	var totalDuration float64

	for _, seg := range mp.Segments {
		if seg == nil {
			continue
		}

		totalDuration += seg.Duration
	}

	var (
		currentKey *m3u8.Key
		downloaded int64
		doneDur    float64
	)

	currentKey = mp.Key
	estimate := progress.UnknownLength

	for _, seg := range mp.Segments {
		if seg == nil {
			continue
		}

		if seg.Key != nil {
			currentKey = seg.Key
		}

		decryptor, err := keys.decryptorFor(ctx, currentKey, seg.SeqId, playlistURL)
		if err != nil {
			handle.Abandon()
			return err
		}

		segURL, err := playlistURL.Parse(seg.URI)
		if err != nil {
			handle.Abandon()
			return stageErr("failed to resolve m3u8 segment url", err)
		}

		n, err := t.downloadSegment(ctx, segURL.String(), referer, decryptor, writer, handle, downloaded, estimate)
		if err != nil {
			handle.Abandon()
			return err
		}

		downloaded += n
		doneDur += seg.Duration

		// Estimated size wobbles with segment bitrate, which is fine;
		// it converges as the transfer proceeds.
		estimate = int64(math.Ceil(float64(downloaded) * totalDuration / doneDur))
		handle.Update(downloaded, estimate)
	}

	handle.Update(downloaded, downloaded)

	if err := cleanUpWrite(writer, file); err != nil {
		handle.Finish()
		return err
	}

	t.remuxAfterDownload(ctx, outputPath)
	handle.Finish()

	return nil
}

// resolveMediaPlaylist parses the fetched playlist and, for a master
// playlist, follows the best variant to its media playlist.
func (t *Transferer) resolveMediaPlaylist(ctx context.Context, resp *fetch.Response, referer string) (*m3u8.MediaPlaylist, *url.URL, error) {
	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, nil, stageErr("failed to parse m3u8", err)
	}

	switch listType {
	case m3u8.MEDIA:
		return playlist.(*m3u8.MediaPlaylist), resp.FinalURL, nil

	case m3u8.MASTER:
		variant, err := selectVariant(playlist.(*m3u8.MasterPlaylist).Variants)
		if err != nil {
			return nil, nil, err
		}

		variantURL, err := resp.FinalURL.Parse(variant.URI)
		if err != nil {
			return nil, nil, stageErr("failed to resolve m3u8 variant url", err)
		}

		mediaResp, err := t.client.Fetch(ctx, variantURL.String(), fetch.Options{Referer: referer})
		if err != nil {
			return nil, nil, err
		}
		defer mediaResp.Body.Close()

		media, mediaType, err := m3u8.DecodeFrom(mediaResp.Body, true)
		if err != nil || mediaType != m3u8.MEDIA {
			if err == nil {
				err = fmt.Errorf("expected media playlist, got nested master")
			}

			return nil, nil, stageErr("failed to parse m3u8 media playlist", err)
		}

		return media.(*m3u8.MediaPlaylist), mediaResp.FinalURL, nil
	}

	return nil, nil, stageErr("failed to parse m3u8", fmt.Errorf("unknown playlist type %d", listType))
}

// downloadSegment streams one segment through the decryptor into the shared
// writer and returns the number of plaintext bytes produced. Progress is
// advanced per chunk against the bytes already downloaded before this
// segment; the size estimate is the caller's and only changes per segment.
func (t *Transferer) downloadSegment(ctx context.Context, segURL, referer string, decryptor hlsdec.Decryptor, writer *bufio.Writer, handle *progress.Handle, base, estimate int64) (int64, error) {
	resp, err := t.client.Fetch(ctx, segURL, fetch.Options{Referer: referer})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	reader := t.limitReader(ctx, resp.Body)
	buf := make([]byte, copyChunkSize)

	var written int64

	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			plain, derr := decryptor.Process(buf[:n])
			if derr != nil {
				return written, stageErr("failed decrypting m3u8 segment", derr)
			}

			if len(plain) > 0 {
				if _, werr := writer.Write(plain); werr != nil {
					return written, stageErr("failed writing to download file", werr)
				}

				written += int64(len(plain))
				handle.Update(base+written, estimate)
			}
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, stageErr("failed download of m3u8 segment", rerr)
		}
	}

	plain, err := decryptor.Flush()
	if err != nil {
		return written, stageErr("failed decrypting m3u8 segment", err)
	}

	if len(plain) > 0 {
		if _, err := writer.Write(plain); err != nil {
			return written, stageErr("failed writing to download file", err)
		}

		written += int64(len(plain))
		handle.Update(base+written, estimate)
	}

	return written, nil
}

// keyCache fetches and caches AES keys by resolved URI so that consecutive
// segments under the same key do not refetch it.
type keyCache struct {
	t       *Transferer
	referer string
	keys    map[string][]byte
}

func newKeyCache(t *Transferer, referer string) *keyCache {
	return &keyCache{t: t, referer: referer, keys: make(map[string][]byte)}
}

// decryptorFor builds the per-segment decryptor for the key in effect.
func (c *keyCache) decryptorFor(ctx context.Context, key *m3u8.Key, sequence uint64, playlistURL *url.URL) (hlsdec.Decryptor, error) {
	if key == nil || key.Method == "" || key.Method == "NONE" {
		return hlsdec.Passthrough(), nil
	}

	if key.Method != "AES-128" {
		return nil, &UnsupportedEncryptionError{Method: key.Method}
	}

	keyBytes, err := c.fetch(ctx, key, playlistURL)
	if err != nil {
		return nil, err
	}

	iv, err := segmentIV(key.IV, sequence)
	if err != nil {
		return nil, err
	}

	return hlsdec.NewAES128CBC(keyBytes, iv)
}

func (c *keyCache) fetch(ctx context.Context, key *m3u8.Key, playlistURL *url.URL) ([]byte, error) {
	if key.URI == "" {
		return nil, ErrMissingKeyURI
	}

	keyURL, err := playlistURL.Parse(key.URI)
	if err != nil {
		return nil, stageErr("failed to resolve m3u8 decryption key url", err)
	}

	resolved := keyURL.String()
	if cached, ok := c.keys[resolved]; ok {
		return cached, nil
	}

	body, err := c.t.client.FetchBytes(ctx, resolved, fetch.Options{Referer: c.referer})
	if err != nil {
		return nil, stageErr("failed to fetch m3u8 decryption key", err)
	}

	if len(body) != 16 {
		return nil, stageErr("failed to fetch m3u8 decryption key",
			fmt.Errorf("expected 16 key bytes, got %d", len(body)))
	}

	c.keys[resolved] = body

	return body, nil
}

// segmentIV derives the CBC initialization vector: the playlist value when
// present, otherwise the absolute segment sequence number as a big-endian
// 128-bit integer.
func segmentIV(attr string, sequence uint64) ([]byte, error) {
	if attr == "" {
		iv := make([]byte, 16)
		binary.BigEndian.PutUint64(iv[8:], sequence)

		return iv, nil
	}

	if !strings.HasPrefix(attr, "0x") && !strings.HasPrefix(attr, "0X") {
		return nil, stageErr("failed to parse m3u8 segment iv",
			fmt.Errorf("iv %q lacks hex prefix", attr))
	}

	digits := attr[2:]
	if len(digits)%2 != 0 {
		digits = "0" + digits
	}

	raw, err := hex.DecodeString(digits)
	if err != nil {
		return nil, stageErr("failed to parse m3u8 segment iv", err)
	}

	if len(raw) > 16 {
		return nil, stageErr("failed to parse m3u8 segment iv",
			fmt.Errorf("iv %q longer than 16 bytes", attr))
	}

	iv := make([]byte, 16)
	copy(iv[16-len(raw):], raw)

	return iv, nil
}
