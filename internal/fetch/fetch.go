// Package fetch implements the unpacker's NETWORK entry downloader: a small
// HTTP GET honoring the environment's proxy configuration, used so a
// NETWORK entry's URL can be resolved into file content at extract time.
package fetch

import (
	"io"
	"net/http"

	"github.com/google/renameio"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"
)

// httpClient is proxy-aware, with compression left to the server since
// we're fetching arbitrary payloads, not JSON APIs.
var httpClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		DisableCompression:  true,
	},
}

// Download GETs url, buffers the full response body in memory so a failed
// or truncated transfer never corrupts an existing file at dest, then
// atomically replaces dest with the buffered content. It returns an error
// if the request fails or the server returns a non-2xx status; callers are
// expected to fall back to writing the URL itself, as the reference
// unpacker does.
func Download(url string, dest string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return xerrors.Errorf("fetch: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.Errorf("fetch: get %s: status %s", url, resp.Status)
	}

	var buf writerseeker.WriterSeeker
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return xerrors.Errorf("fetch: read body of %s: %w", url, err)
	}

	r, err := buf.BytesReader()
	if err != nil {
		return xerrors.Errorf("fetch: buffer %s: %w", url, err)
	}
	content := make([]byte, r.Len())
	if _, err := io.ReadFull(r, content); err != nil {
		return xerrors.Errorf("fetch: buffer %s: %w", url, err)
	}

	if err := renameio.WriteFile(dest, content, 0o644); err != nil {
		return xerrors.Errorf("fetch: write %s: %w", dest, err)
	}
	return nil
}
