package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

// fetchOriginal makes the original audio available as a local file and
// returns its path. file:// URLs and plain paths resolve in place; http(s)
// URLs download into the workspace.
func (p *Pipeline) fetchOriginal(ctx context.Context, ws *workspace.Workspace, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("no original audio URL: %w", types.ErrPreconditionFailed)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid original audio URL %q: %w", rawURL, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return p.download(ctx, ws, rawURL)
	case "file":
		return localOriginal(parsed.Path)
	case "":
		return localOriginal(rawURL)
	default:
		return "", fmt.Errorf("unsupported original audio URL scheme %q", parsed.Scheme)
	}
}

func localOriginal(filePath string) (string, error) {
	if err := workspace.Verify(filePath); err != nil {
		return "", err
	}
	return filePath, nil
}

func (p *Pipeline) download(ctx context.Context, ws *workspace.Workspace, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch original audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch original audio: status %d", resp.StatusCode)
	}

	out := ws.Path("download", downloadExt(rawURL))
	file, err := os.Create(out) //nolint:gosec // path is workspace-generated
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("failed to save original audio: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	if err := workspace.Verify(out); err != nil {
		return "", err
	}
	return out, nil
}

// downloadExt guesses a file extension from the URL path, defaulting to
// ".bin" so the transcoder sniffs the container itself.
func downloadExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".bin"
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if ext == "" || len(ext) > 6 {
		return ".bin"
	}
	return ext
}
