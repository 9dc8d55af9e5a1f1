package instagram

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

	statusInProgress = "IN_PROGRESS"
	statusProcessing = "PROCESSING"
	statusError      = "ERROR"
)

var (
	errAccountRequired = errors.New("instagram business account id is required")
	errTokenRequired   = errors.New("instagram access token is required")
	errLoggerRequired  = errors.New("instagram logger is required")
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client publishes through the Instagram container flow: create container,
// poll its status_code, then media_publish.
type Client struct {
	http      doer
	baseURL   string
	version   string
	accountID string
	token     string
	logger    *logger.Logger
}

func NewClient(cfg config.InstagramConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.BusinessAccountID) == "" {
		return nil, errAccountRequired
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errTokenRequired
	}
	return &Client{
		http:      &http.Client{Timeout: platforms.InitiateTimeout},
		baseURL:   defaultBaseURL,
		version:   cfg.APIVersion,
		accountID: cfg.BusinessAccountID,
		token:     cfg.AccessToken,
		logger:    logg,
	}, nil
}

func (c *Client) Platform() enums.Platform {
	return enums.PlatformInstagram
}

// Initiate creates the media container. Carousels create one child container
// per image first, then a parent referencing all of them.
func (c *Client) Initiate(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	var containerID string
	var err error
	switch {
	case content.MediaType == enums.PublicationMediaReel:
		containerID, err = c.createReelContainer(ctx, content)
	case content.MediaType == enums.PublicationMediaStory:
		containerID, err = c.createStoryContainer(ctx, content)
	case len(content.MediaURLs) > 1:
		containerID, err = c.createCarouselContainer(ctx, content)
	case len(content.MediaURLs) == 1:
		containerID, err = c.createImageContainer(ctx, content.MediaURLs[0], content.Caption, false)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "instagram publish requires at least one media url")
	}
	if err != nil {
		return nil, err
	}

	return &platforms.Initiation{Handle: containerID}, nil
}

func (c *Client) createImageContainer(ctx context.Context, imageURL, caption string, carouselItem bool) (string, error) {
	params := url.Values{}
	params.Set("image_url", imageURL)
	if carouselItem {
		params.Set("is_carousel_item", "true")
	} else {
		params.Set("caption", caption)
	}
	return c.createContainer(ctx, "image_container", params)
}

func (c *Client) createCarouselContainer(ctx context.Context, content platforms.Content) (string, error) {
	children := make([]string, 0, len(content.MediaURLs))
	for _, mediaURL := range content.MediaURLs {
		childID, err := c.createImageContainer(ctx, mediaURL, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	params := url.Values{}
	params.Set("media_type", "CAROUSEL")
	params.Set("children", strings.Join(children, ","))
	params.Set("caption", content.Caption)
	return c.createContainer(ctx, "carousel_container", params)
}

func (c *Client) createReelContainer(ctx context.Context, content platforms.Content) (string, error) {
	if content.VideoURL == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "instagram reel requires a staged video url")
	}
	params := url.Values{}
	params.Set("media_type", "REELS")
	params.Set("video_url", content.VideoURL)
	params.Set("caption", content.Caption)
	if content.CoverURL != "" {
		params.Set("cover_url", content.CoverURL)
	}
	return c.createContainer(ctx, "reel_container", params)
}

func (c *Client) createStoryContainer(ctx context.Context, content platforms.Content) (string, error) {
	if content.VideoURL == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "instagram story requires a staged video url")
	}
	params := url.Values{}
	params.Set("media_type", "STORIES")
	params.Set("video_url", content.VideoURL)
	return c.createContainer(ctx, "story_container", params)
}

func (c *Client) createContainer(ctx context.Context, op string, params url.Values) (string, error) {
	c.log(ctx, "request", op, nil)
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.postForm(ctx, c.node(c.accountID)+"/media", params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodePlatform, "instagram container creation returned no id")
	}
	return resp.ID, nil
}

// PollStatus checks the container status_code.
func (c *Client) PollStatus(ctx context.Context, job platforms.Job) (*platforms.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.StatusTimeout)
	defer cancel()

	c.log(ctx, "request", "container_status", map[string]any{"container_id": job.Handle})
	var resp struct {
		StatusCode string `json:"status_code"`
	}
	if err := c.getJSON(ctx, c.node(job.Handle)+"?fields=status_code", &resp); err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case statusInProgress, statusProcessing:
		return &platforms.Poll{Done: false}, nil
	case statusError:
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "instagram container entered error status")
	default:
		return &platforms.Poll{Done: true}, nil
	}
}

// Finalize publishes the finished container and fetches the permalink.
func (c *Client) Finalize(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("creation_id", job.Handle)

	c.log(ctx, "request", "media_publish", map[string]any{"container_id": job.Handle})
	var publishResp struct {
		ID string `json:"id"`
	}
	if err := c.postForm(ctx, c.node(c.accountID)+"/media_publish", params, &publishResp); err != nil {
		return nil, err
	}
	if publishResp.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "instagram media_publish returned no id")
	}

	post := &platforms.PostRef{ID: publishResp.ID}
	var permalink struct {
		Permalink string `json:"permalink"`
	}
	if err := c.getJSON(ctx, c.node(publishResp.ID)+"?fields=permalink", &permalink); err == nil {
		post.URL = permalink.Permalink
	}
	return post, nil
}

func (c *Client) node(id string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, id)
}

func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("access_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building instagram request")
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
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building instagram request")
	}
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "instagram request failed")
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decoding instagram response")
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	message := payload.Error.Message
	if message == "" {
		message = fmt.Sprintf("instagram returned %s", resp.Status)
	}
	details := map[string]any{"graph_code": payload.Error.Code, "http_status": resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeRateLimit, message).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodePlatform, message).WithDetails(details)
}

func (c *Client) closeBody(ctx context.Context, body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "instagram: closing response body failed")
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
	c.logger.Info(ctx, fmt.Sprintf("instagram %s", phase))
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
