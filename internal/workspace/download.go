package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"stitch/internal/logging"
	"stitch/internal/services"
)

// Downloader fetches remote segment audio into a workspace. The zero value
// is not usable; construct with NewDownloader.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// NewDownloader builds a downloader with the given client timeout. Redirects
// follow the default http.Client policy.
func NewDownloader(timeout time.Duration, userAgent string) *Downloader {
	return &Downloader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// DownloadFile streams url into the workspace under localName, registers the
// file, and returns its absolute path. Non-2xx responses, empty bodies, and
// content-length mismatches are each rejected with a classified error, and
// the partial file is removed.
func (d *Downloader) DownloadFile(ctx context.Context, ws *Workspace, url, localName string) (string, error) {
	destination, err := ws.GetPath(localName)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "download", "request", fmt.Sprintf("build request for %s", url), err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return "", services.Wrap(services.ErrTimeout, "download", "fetch", fmt.Sprintf("fetch %s timed out", url), err)
		}
		return "", services.Wrap(services.ErrNetwork, "download", "fetch", fmt.Sprintf("fetch %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		marker := services.ErrNetwork
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			marker = services.ErrTransient
		}
		return "", services.Wrap(marker, "download", "fetch",
			fmt.Sprintf("fetch %s returned status %d", url, resp.StatusCode), nil)
	}

	out, err := os.Create(destination)
	if err != nil {
		return "", services.Wrap(services.ErrFileSystem, "download", "create", fmt.Sprintf("create %s", localName), err)
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(destination)
		if errors.Is(copyErr, context.DeadlineExceeded) || isClientTimeout(copyErr) {
			return "", services.Wrap(services.ErrTimeout, "download", "stream", fmt.Sprintf("stream %s timed out", url), copyErr)
		}
		return "", services.Wrap(services.ErrNetwork, "download", "stream", fmt.Sprintf("stream %s", url), copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(destination)
		return "", services.Wrap(services.ErrFileSystem, "download", "close", fmt.Sprintf("flush %s", localName), closeErr)
	}

	if written == 0 {
		_ = os.Remove(destination)
		return "", services.Wrap(services.ErrNetwork, "download", "stream",
			fmt.Sprintf("fetch %s produced an empty body", url), nil)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(destination)
		return "", services.Wrap(services.ErrNetwork, "download", "stream",
			fmt.Sprintf("fetch %s size mismatch: declared %d bytes, received %d", url, resp.ContentLength, written), nil)
	}

	ws.Register(destination)
	ws.logger.Debug("segment downloaded",
		logging.String("url", url),
		logging.String("path", destination),
		logging.Int64("bytes", written),
	)
	return destination, nil
}

func isClientTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
