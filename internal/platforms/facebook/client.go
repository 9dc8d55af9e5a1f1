package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	postURLFormat  = "https://www.facebook.com/%s"

	// Graph error codes that mean "still rendering", not failure.
	codeStillProcessing   = 9007
	codeReelNotReady      = 2207027
	uploadPhaseComplete   = "complete"
	videoStateUnpublished = "UNPUBLISHED"
	videoStatePublished   = "PUBLISHED"
)

var (
	errPageIDRequired = errors.New("facebook page id is required")
	errTokenRequired  = errors.New("facebook page access token is required")
	errLoggerRequired = errors.New("facebook logger is required")
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client drives page feed posts, reels and stories through the Graph API.
type Client struct {
	http    doer
	baseURL string
	version string
	pageID  string
	token   string
	logger  *logger.Logger
}

func NewClient(cfg config.FacebookConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.PageID) == "" {
		return nil, errPageIDRequired
	}
	if strings.TrimSpace(cfg.PageAccessToken) == "" {
		return nil, errTokenRequired
	}
	return &Client{
		http:    &http.Client{Timeout: platforms.InitiateTimeout},
		baseURL: defaultBaseURL,
		version: cfg.APIVersion,
		pageID:  cfg.PageID,
		token:   cfg.PageAccessToken,
		logger:  logg,
	}, nil
}

func (c *Client) Platform() enums.Platform {
	return enums.PlatformFacebook
}

// Initiate starts the publish flow for the content's media type. Stories are
// the one synchronous case: the video handle is the terminal result.
func (c *Client) Initiate(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	switch content.MediaType {
	case enums.PublicationMediaFeed:
		return c.initiateFeed(ctx, content)
	case enums.PublicationMediaReel:
		return c.initiateReel(ctx, content)
	case enums.PublicationMediaStory:
		return c.initiateStory(ctx, content)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("facebook cannot publish media type %s", content.MediaType))
	}
}

// initiateFeed uploads every photo unpublished. The feed call that attaches
// them happens in Finalize so a crash between the two steps is resumable.
func (c *Client) initiateFeed(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	if len(content.MediaURLs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facebook feed requires at least one image")
	}

	photoIDs := make([]string, 0, len(content.MediaURLs))
	for _, mediaURL := range content.MediaURLs {
		c.log(ctx, "request", "photo_upload", map[string]any{"url": mediaURL})
		var resp struct {
			ID string `json:"id"`
		}
		params := url.Values{}
		params.Set("url", mediaURL)
		params.Set("published", "false")
		if err := c.postForm(ctx, c.edge(c.pageID, "photos"), params, &resp); err != nil {
			return nil, err
		}
		if resp.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodePlatform, "facebook photo upload returned no id")
		}
		photoIDs = append(photoIDs, resp.ID)
	}

	return &platforms.Initiation{Handle: strings.Join(photoIDs, ",")}, nil
}

func (c *Client) initiateReel(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	videoID, err := c.startVideoUpload(ctx, "video_reels", content.VideoURL)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("upload_phase", "finish")
	params.Set("video_id", videoID)
	params.Set("video_state", videoStateUnpublished)
	params.Set("description", content.Caption)
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postForm(ctx, c.edge(c.pageID, "video_reels"), params, &resp); err != nil {
		return nil, err
	}

	return &platforms.Initiation{Handle: videoID}, nil
}

// initiateStory uploads the story video and treats the resulting handle as a
// published post. Stories have no permalink and no confirmation step.
func (c *Client) initiateStory(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	videoID, err := c.startVideoUpload(ctx, "video_stories", content.VideoURL)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("upload_phase", "finish")
	params.Set("video_id", videoID)
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postForm(ctx, c.edge(c.pageID, "video_stories"), params, &resp); err != nil {
		return nil, err
	}

	return &platforms.Initiation{
		Handle: videoID,
		Post:   &platforms.PostRef{ID: videoID},
	}, nil
}

// startVideoUpload runs the start phase and pushes the staged file URL to the
// returned resumable upload endpoint.
func (c *Client) startVideoUpload(ctx context.Context, edge, videoURL string) (string, error) {
	if videoURL == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "facebook video publish requires a staged video url")
	}

	c.log(ctx, "request", edge+"_start", nil)
	params := url.Values{}
	params.Set("upload_phase", "start")
	var start struct {
		VideoID   string `json:"video_id"`
		UploadURL string `json:"upload_url"`
	}
	if err := c.postForm(ctx, c.edge(c.pageID, edge), params, &start); err != nil {
		return "", err
	}
	if start.VideoID == "" || start.UploadURL == "" {
		return "", pkgerrors.New(pkgerrors.CodePlatform, "facebook upload start returned no video id or upload url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, start.UploadURL, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building facebook upload request")
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("file_url", videoURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "facebook binary upload failed")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", c.errorFromResponse(resp)
	}

	return start.VideoID, nil
}

// PollStatus checks an asynchronous job. Feed handles carry already-uploaded
// photo ids, so the job is immediately ready for Finalize.
func (c *Client) PollStatus(ctx context.Context, job platforms.Job) (*platforms.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.StatusTimeout)
	defer cancel()

	switch job.Content.MediaType {
	case enums.PublicationMediaFeed:
		return &platforms.Poll{Done: true}, nil
	case enums.PublicationMediaReel:
		return c.pollReel(ctx, job.Handle)
	case enums.PublicationMediaStory:
		return &platforms.Poll{Done: true, Post: &platforms.PostRef{ID: job.Handle}}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("facebook cannot poll media type %s", job.Content.MediaType))
	}
}

func (c *Client) pollReel(ctx context.Context, videoID string) (*platforms.Poll, error) {
	c.log(ctx, "request", "reel_status", map[string]any{"video_id": videoID})
	var resp struct {
		Status struct {
			UploadingPhase struct {
				Status string `json:"status"`
			} `json:"uploading_phase"`
		} `json:"status"`
	}
	if err := c.getJSON(ctx, c.edge(videoID, "")+"?fields=status", &resp); err != nil {
		if isStillProcessing(err) {
			return &platforms.Poll{Done: false}, nil
		}
		return nil, err
	}
	if resp.Status.UploadingPhase.Status != uploadPhaseComplete {
		return &platforms.Poll{Done: false}, nil
	}
	return &platforms.Poll{Done: true}, nil
}

// Finalize performs the step that makes the post public: the feed call for
// photo posts, the publish phase plus optional thumbnail for reels.
func (c *Client) Finalize(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	switch job.Content.MediaType {
	case enums.PublicationMediaFeed:
		return c.finalizeFeed(ctx, job)
	case enums.PublicationMediaReel:
		return c.finalizeReel(ctx, job)
	case enums.PublicationMediaStory:
		return &platforms.PostRef{ID: job.Handle}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("facebook cannot finalize media type %s", job.Content.MediaType))
	}
}

func (c *Client) finalizeFeed(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	photoIDs := strings.Split(job.Handle, ",")
	params := url.Values{}
	params.Set("message", job.Content.Caption)
	for i, id := range photoIDs {
		params.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, id))
	}

	c.log(ctx, "request", "feed_create", map[string]any{"photo_count": len(photoIDs)})
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.postForm(ctx, c.edge(c.pageID, "feed"), params, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "facebook feed call returned no post id")
	}

	return &platforms.PostRef{ID: resp.ID, URL: fmt.Sprintf(postURLFormat, resp.ID)}, nil
}

func (c *Client) finalizeReel(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	params := url.Values{}
	params.Set("upload_phase", "finish")
	params.Set("video_id", job.Handle)
	params.Set("video_state", videoStatePublished)
	params.Set("description", job.Content.Caption)

	c.log(ctx, "request", "reel_publish", map[string]any{"video_id": job.Handle})
	var publishResp struct {
		Success bool `json:"success"`
	}
	if err := c.postForm(ctx, c.edge(c.pageID, "video_reels"), params, &publishResp); err != nil {
		return nil, err
	}

	if job.Content.CoverURL != "" {
		if err := c.uploadThumbnail(ctx, job.Handle, job.Content.CoverURL); err != nil {
			// The reel is live; a missing thumbnail is not worth failing it.
			c.log(ctx, "warn", "reel_thumbnail", map[string]any{"error": err.Error()})
		}
	}

	var permalink struct {
		PermalinkURL string `json:"permalink_url"`
	}
	postURL := fmt.Sprintf(postURLFormat, job.Handle)
	if err := c.getJSON(ctx, c.edge(job.Handle, "")+"?fields=permalink_url", &permalink); err == nil && permalink.PermalinkURL != "" {
		postURL = "https://www.facebook.com" + permalink.PermalinkURL
	}

	return &platforms.PostRef{ID: job.Handle, URL: postURL}, nil
}

func (c *Client) uploadThumbnail(ctx context.Context, videoID, coverURL string) error {
	cover, err := c.fetchBytes(ctx, coverURL)
	if err != nil {
		return err
	}
	body, contentType, err := thumbnailForm(cover)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.edge(videoID, "thumbnails"), body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building thumbnail request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "facebook thumbnail upload failed")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}
	return nil
}

func (c *Client) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building media fetch request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching staged media failed")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("fetching staged media returned %s", resp.Status))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) edge(node, edge string) string {
	base := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, node)
	if edge == "" {
		return base
	}
	return base + "/" + edge
}

func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("access_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building facebook request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+sep+"access_token="+url.QueryEscape(c.token), nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building facebook request")
	}
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "facebook request failed")
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decoding facebook response")
	}
	return nil
}

type graphError struct {
	Code    int
	Message string
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	ge := graphError{Code: payload.Error.Code, Message: payload.Error.Message}
	if payload.Error.Subcode != 0 {
		ge.Code = payload.Error.Subcode
	}
	if ge.Message == "" {
		ge.Message = fmt.Sprintf("facebook returned %s", resp.Status)
	}

	details := map[string]any{"graph_code": ge.Code, "http_status": resp.StatusCode}
	if ge.Code == codeStillProcessing || ge.Code == codeReelNotReady {
		return pkgerrors.New(pkgerrors.CodeTransient, ge.Message).WithDetails(details)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeRateLimit, ge.Message).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodePlatform, ge.Message).WithDetails(details)
}

func isStillProcessing(err error) bool {
	return pkgerrors.CodeOf(err) == pkgerrors.CodeTransient || pkgerrors.CodeOf(err) == pkgerrors.CodeRateLimit
}

func (c *Client) closeBody(ctx context.Context, body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "facebook: closing response body failed")
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("facebook %s", op), errors.New(fmt.Sprint(fields["error"])))
	case "warn":
		c.logger.Warn(ctx, fmt.Sprintf("facebook %s", op))
	default:
		c.logger.Info(ctx, fmt.Sprintf("facebook %s", phase))
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(client doer) *Client {
	c.http = client
	return c
}

// WithBaseURL points the client at a different Graph host, mainly for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}
