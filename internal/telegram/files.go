package telegram

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-telegram/bot"

	"github.com/set-night/memochat/internal/service"
)

// DownloadFile fetches a Telegram file into the file cache and returns the
// cached path.
func DownloadFile(ctx context.Context, api API, client *http.Client, files *service.FileCache, fileID, name string) (string, error) {
	file, err := api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.FileDownloadLink(file), nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	path, err := files.Save(name, resp.Body)
	if err != nil {
		return "", fmt.Errorf("cache file: %w", err)
	}
	return path, nil
}
