package database

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const cacheFileName = "DbXmlInfo.xml"

// Loader fetches the catalog export over HTTP with a local file cache.
// The export embeds its own creation timestamp, so the fetch streams just
// far enough to compare timestamps and skips the (multi-megabyte) rest
// when the cache is current.
type Loader struct {
	url       string
	cacheDir  string
	cacheOnly bool
	client    *http.Client
	log       zerolog.Logger
}

func NewLoader(url, cacheDir string, cacheOnly bool) *Loader {
	return &Loader{
		url:       url,
		cacheDir:  cacheDir,
		cacheOnly: cacheOnly,
		client:    &http.Client{Timeout: 5 * time.Minute},
		log:       log.With().Str("component", "db_loader").Logger(),
	}
}

// Load returns the freshest available export bytes: the server copy when
// it is newer than the cache, the cache otherwise.
func (l *Loader) Load(ctx context.Context) ([]byte, error) {
	cacheFile := filepath.Join(l.cacheDir, cacheFileName)

	var cached []byte
	var cachedAt time.Time
	if data, err := os.ReadFile(cacheFile); err == nil {
		ts, ok := parseExportTimestamp(data)
		if !ok {
			l.log.Warn().Str("path", cacheFile).Msg("cache has no export timestamp, discarding")
			_ = os.Remove(cacheFile)
		} else {
			cached = data
			cachedAt = ts
		}
	}

	if l.cacheOnly {
		if cached == nil {
			return nil, fmt.Errorf("%w: cache-only mode with no cache at %s", ErrNoData, cacheFile)
		}
		return cached, nil
	}

	fresh, err := l.fetch(ctx, cachedAt)
	if err != nil {
		if cached != nil {
			l.log.Warn().Err(err).Msg("server fetch failed, using cache")
			return cached, nil
		}
		return nil, err
	}
	if fresh == nil {
		l.log.Info().Time("cached_at", cachedAt).Msg("cache is current")
		return cached, nil
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create cache dir: %w", err)
	}
	if err := os.WriteFile(cacheFile, fresh, 0o644); err != nil {
		return nil, fmt.Errorf("database: write cache: %w", err)
	}
	return fresh, nil
}

// fetch streams the export. Once enough bytes arrive to read the embedded
// timestamp, a server copy not newer than cachedAt aborts the download
// and returns nil bytes.
func (l *Loader) fetch(ctx context.Context, cachedAt time.Time) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrFetchFailed, l.url, resp.StatusCode)
	}

	var buf []byte
	chunk := make([]byte, 1024)
	confirmed := cachedAt.IsZero()
	for {
		n, readErr := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if !confirmed {
			if ts, ok := parseExportTimestamp(buf); ok {
				if !ts.After(cachedAt) {
					return nil, nil
				}
				confirmed = true
			}
		}
		if readErr == io.EOF {
			return buf, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, readErr)
		}
	}
}

var (
	reExportDate = regexp.MustCompile(`<DbExportDate>(\d{2}/\d{2}/\d{4})</DbExportDate>`)
	reExportTime = regexp.MustCompile(`<DbExportTime>(\d{2}:\d{2}:\d{2})</DbExportTime>`)
)

// parseExportTimestamp extracts the DbExportDate/DbExportTime pair from a
// chunk of export XML. The chunk may be a truncated prefix of the file.
func parseExportTimestamp(data []byte) (time.Time, bool) {
	dateMatch := reExportDate.FindSubmatch(data)
	timeMatch := reExportTime.FindSubmatch(data)
	if dateMatch == nil || timeMatch == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse("01/02/2006 15:04:05", string(dateMatch[1])+" "+string(timeMatch[1]))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
