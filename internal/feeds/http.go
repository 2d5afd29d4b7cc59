package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"mailsmith/internal/types"
)

// DefaultMaxBodyBytes caps how much feed a single fetch will accept,
// compressed or decompressed. Real feeds run tens of kilobytes; anything near
// this limit is misconfigured or hostile.
const DefaultMaxBodyBytes = 5 << 20

const acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// HTTPSource is the production Feed Source Adapter: it fetches feed documents
// over HTTP through the resilient Client and parses them into Items.
type HTTPSource struct {
	client       *Client
	parser       *Parser
	maxBodyBytes int64

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool sync.Pool
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTPSource. maxBodyBytes <= 0 selects
// DefaultMaxBodyBytes.
func NewHTTPSource(client *Client, parser *Parser, maxBodyBytes int64) *HTTPSource {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPSource{
		client:       client,
		parser:       parser,
		maxBodyBytes: maxBodyBytes,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
					zstd.WithDecoderMaxMemory(uint64(maxBodyBytes)))
				if err != nil {
					// This should never fail with nil input and static options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Fetch retrieves and parses one feed. The returned items are in feed-native
// order. ctx cancellation aborts the transfer mid-flight.
func (s *HTTPSource) Fetch(ctx context.Context, uri string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "invalid feed request", err)
	}
	req.Header.Set("Accept", acceptHeader)
	// Announcing encodings ourselves disables the transport's transparent
	// gzip handling, so readBody owns decompression for both.
	req.Header.Set("Accept-Encoding", "gzip, zstd")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamFeed,
			fmt.Sprintf("feed origin returned status %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode, "uri": uri},
		)
	}

	data, err := s.readBody(resp)
	if err != nil {
		return nil, err
	}

	return s.parser.Parse(data)
}

// readBody drains the response within the size cap and reverses whatever
// Content-Encoding the origin picked.
func (s *HTTPSource) readBody(resp *http.Response) ([]byte, error) {
	raw, err := s.readCapped(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "", "identity":
		return raw, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "feed body is not valid gzip", err)
		}
		defer zr.Close()
		return s.readCapped(zr)
	case "zstd":
		decoder := s.decoderPool.Get().(*zstd.Decoder)
		defer s.decoderPool.Put(decoder)
		out, err := decoder.DecodeAll(raw, nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, s.tooLargeError()
			}
			return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "feed body is not valid zstd", err)
		}
		return out, nil
	default:
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamFeed,
			"feed origin used an unsupported content encoding",
			nil,
			map[string]any{"content_encoding": resp.Header.Get("Content-Encoding")},
		)
	}
}

// readCapped reads at most maxBodyBytes, erroring instead of truncating when
// the source has more.
func (s *HTTPSource) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBodyBytes+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "failed to read feed body", err)
	}
	if int64(len(data)) > s.maxBodyBytes {
		return nil, s.tooLargeError()
	}
	return data, nil
}

func (s *HTTPSource) tooLargeError() *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamFeed,
		"feed body exceeds the size limit",
		nil,
		map[string]any{"limit_bytes": s.maxBodyBytes},
	)
}
