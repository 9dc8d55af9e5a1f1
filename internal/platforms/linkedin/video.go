package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
)

type uploadInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

// initiateVideo runs the resumable video flow: initializeUpload sized via a
// HEAD on the staged file, chunked Range transfers in instruction order,
// finalizeUpload with the ordered part ETags, then the post itself. LinkedIn
// keeps processing the video after the post exists, so the caller polls.
func (c *Client) initiateVideo(ctx context.Context, content platforms.Content) (string, error) {
	size, err := c.stagedFileSize(ctx, content.VideoURL)
	if err != nil {
		return "", err
	}

	c.log(ctx, "request", "video_initialize_upload", map[string]any{"file_size_bytes": size})
	var initResp struct {
		Value struct {
			Video              string              `json:"video"`
			UploadToken        string              `json:"uploadToken"`
			UploadInstructions []uploadInstruction `json:"uploadInstructions"`
			ThumbnailUploadURL string              `json:"thumbnailUploadUrl"`
		} `json:"value"`
	}
	body := map[string]any{
		"initializeUploadRequest": map[string]any{
			"owner":           c.author,
			"fileSizeBytes":   size,
			"uploadCaptions":  false,
			"uploadThumbnail": content.CoverURL != "",
		},
	}
	endpoint := c.baseURL + "/rest/videos?action=initializeUpload"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &initResp, nil); err != nil {
		return "", err
	}
	if initResp.Value.Video == "" || len(initResp.Value.UploadInstructions) == 0 {
		return "", pkgerrors.New(pkgerrors.CodePlatform, "linkedin video upload initialization returned no upload plan")
	}

	// Part ids must reach finalizeUpload in instruction order.
	partIDs := make([]string, 0, len(initResp.Value.UploadInstructions))
	for _, instruction := range initResp.Value.UploadInstructions {
		byteRange := fmt.Sprintf("bytes=%d-%d", instruction.FirstByte, instruction.LastByte)
		chunk, err := c.fetchStaged(ctx, content.VideoURL, byteRange)
		if err != nil {
			return "", err
		}
		etag, err := c.putBinary(ctx, instruction.UploadURL, chunk)
		if err != nil {
			return "", err
		}
		partIDs = append(partIDs, etag)
	}

	finalizeBody := map[string]any{
		"finalizeUploadRequest": map[string]any{
			"video":           initResp.Value.Video,
			"uploadToken":     initResp.Value.UploadToken,
			"uploadedPartIds": partIDs,
		},
	}
	finalizeEndpoint := c.baseURL + "/rest/videos?action=finalizeUpload"
	if err := c.doJSON(ctx, http.MethodPost, finalizeEndpoint, finalizeBody, nil, nil); err != nil {
		return "", err
	}

	if content.CoverURL != "" && initResp.Value.ThumbnailUploadURL != "" {
		c.uploadVideoThumbnail(ctx, initResp.Value.ThumbnailUploadURL, content.CoverURL)
	}

	return c.createPost(ctx, content.Caption, map[string]any{
		"media": map[string]any{"id": initResp.Value.Video, "title": content.Title},
	})
}

// uploadVideoThumbnail is best effort. A post without its preferred cover is
// still a published post.
func (c *Client) uploadVideoThumbnail(ctx context.Context, uploadURL, coverURL string) {
	cover, err := c.fetchStaged(ctx, coverURL, "")
	if err != nil {
		c.log(ctx, "error", "video_thumbnail", map[string]any{"error": err.Error()})
		return
	}
	if _, err := c.putBinary(ctx, uploadURL, cover); err != nil {
		c.log(ctx, "error", "video_thumbnail", map[string]any{"error": err.Error()})
	}
}

func (c *Client) stagedFileSize(ctx context.Context, stagedURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, stagedURL, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building staged media head request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "sizing staged media")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, pkgerrors.New(pkgerrors.CodeStaging, fmt.Sprintf("staged media head returned %s", resp.Status))
	}

	size := resp.ContentLength
	if size <= 0 {
		if parsed, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			size = parsed
		}
	}
	if size <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStaging, "staged media reports no content length")
	}
	return size, nil
}
