package slackcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	imageFilename = "databot_image.png"

	imageDeliveryFailedNotice = "Your image was generated successfully, but I was unable to deliver it to this channel. My apologies."
	imageFailureNotice        = "I was unable to generate that image. Please try again with a different description."

	placeholderClearedText = "_Processing complete._"
)

// slackPlaceholder is the transient "thinking" message handle.
type slackPlaceholder struct {
	api       *slackAPI
	channelID string
	ts        string
}

func (p *slackPlaceholder) Clear(ctx context.Context) error {
	if p == nil || p.api == nil {
		return nil
	}
	if err := p.api.deleteMessage(ctx, p.channelID, p.ts); err != nil {
		// Some workspaces deny chat.delete to bots; blanking the message
		// is the degraded form of clearing it.
		if updateErr := p.api.updateMessage(ctx, p.channelID, p.ts, placeholderClearedText); updateErr != nil {
			return err
		}
	}
	return nil
}

// imageUploader is the subset of the Slack API the delivery chain needs,
// split out so the fallback logic is testable without a live client.
type imageUploader interface {
	uploadExternal(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error)
	uploadLegacy(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error)
	postText(ctx context.Context, channelID, text, threadTS string) (string, error)
}

type apiUploader struct {
	api *slackAPI
}

func (u apiUploader) uploadExternal(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error) {
	return u.api.uploadFileExternal(ctx, channelID, threadTS, filename, title, data)
}

func (u apiUploader) uploadLegacy(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error) {
	return u.api.uploadFileLegacy(ctx, channelID, threadTS, filename, title, data)
}

func (u apiUploader) postText(ctx context.Context, channelID, text, threadTS string) (string, error) {
	return u.api.postMessage(ctx, channelID, text, threadTS, json.RawMessage(nil))
}

// deliverGeneratedImage walks the fallback chain: preferred external upload,
// then the legacy endpoint, then a text notice that generation succeeded but
// delivery failed. One attempt per tier, no retries within a tier.
func deliverGeneratedImage(ctx context.Context, logger *slog.Logger, uploader imageUploader, channelID, threadTS, title string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("image data is empty")
	}

	result, err := uploader.uploadExternal(ctx, channelID, threadTS, imageFilename, title, data)
	if err == nil {
		logger.Info("image_delivered", "tier", "external", "file_id", result.FileID)
		return nil
	}
	logger.Warn("image_upload_external_error", "error", err.Error())

	result, err = uploader.uploadLegacy(ctx, channelID, threadTS, imageFilename, title, data)
	if err == nil {
		logger.Info("image_delivered", "tier", "legacy", "file_id", result.FileID)
		return nil
	}
	logger.Warn("image_upload_legacy_error", "error", err.Error())

	if _, err := uploader.postText(ctx, channelID, imageDeliveryFailedNotice, threadTS); err != nil {
		return fmt.Errorf("post delivery-failed notice: %w", err)
	}
	logger.Warn("image_delivered", "tier", "notice_only")
	return nil
}
