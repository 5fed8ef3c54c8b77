package tools

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/pkg/sftp"

	"github.com/prismsec/prism/pkg/settings"
)

// SFTPUploader writes files onto inventory assets over SFTP, using the same
// asset resolution and authentication as the SSH executor.
type SFTPUploader struct {
	store  *settings.Store
	logger *slog.Logger
}

// NewSFTPUploader creates an uploader reading assets and keys from store.
func NewSFTPUploader(store *settings.Store, logger *slog.Logger) *SFTPUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SFTPUploader{store: store, logger: logger}
}

// Upload decodes contentB64 and writes it to remotePath on the target asset.
func (u *SFTPUploader) Upload(ctx context.Context, target, remotePath, contentB64 string) map[string]any {
	if remotePath == "" {
		return errorResult("remote_path is required")
	}
	data, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return errorResult("invalid base64 content: %s", err)
	}

	snapshot, err := u.store.Get(ctx)
	if err != nil {
		return errorResult("failed to load settings: %s", err)
	}
	asset, ok := snapshot.FindAsset(target)
	if !ok {
		return errorResult("asset %q not found in inventory", target)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	client, err := dialAsset(ctx, asset, snapshot)
	if err != nil {
		return errorResult("SSH connection to %s failed: %s", asset.IP, err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return errorResult("failed to open SFTP channel to %s: %s", asset.IP, err)
	}
	defer sftpClient.Close()

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return errorResult("failed to create %s on %s: %s", remotePath, asset.IP, err)
	}
	n, err := f.Write(data)
	closeErr := f.Close()
	if err != nil {
		return errorResult("failed to write %s on %s: %s", remotePath, asset.IP, err)
	}
	if closeErr != nil {
		return errorResult("failed to finalize %s on %s: %s", remotePath, asset.IP, closeErr)
	}

	u.logger.Info("File uploaded",
		"target", asset.IP, "remote_path", remotePath, "bytes", n)
	return map[string]any{
		"status":      "success",
		"target":      asset.IP,
		"remote_path": remotePath,
		"bytes":       n,
	}
}
