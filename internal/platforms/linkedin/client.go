package linkedin

import (
	"bytes"
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
	defaultBaseURL = "https://api.linkedin.com"

	restliProtocolVersion = "2.0.0"

	lifecyclePublished     = "PUBLISHED"
	lifecyclePublishFailed = "PUBLISH_FAILED"

	feedUpdateURLFormat = "https://www.linkedin.com/feed/update/%s/"
)

var (
	errTokenRequired        = errors.New("linkedin access token is required")
	errOrganizationRequired = errors.New("linkedin organization id is required")
	errLoggerRequired       = errors.New("linkedin logger is required")
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client publishes through the versioned REST API. Image posts complete
// synchronously; video posts stay asynchronous until LinkedIn finishes its
// own processing of the uploaded file.
type Client struct {
	http    doer
	baseURL string
	token   string
	author  string
	version string
	logger  *logger.Logger
}

func NewClient(cfg config.LinkedInConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errTokenRequired
	}
	if strings.TrimSpace(cfg.OrganizationID) == "" {
		return nil, errOrganizationRequired
	}
	return &Client{
		http:    &http.Client{Timeout: platforms.InitiateTimeout},
		baseURL: defaultBaseURL,
		token:   cfg.AccessToken,
		author:  fmt.Sprintf("urn:li:organization:%s", cfg.OrganizationID),
		version: cfg.APIVersion,
		logger:  logg,
	}, nil
}

func (c *Client) Platform() enums.Platform {
	return enums.PlatformLinkedIn
}

// Initiate publishes image posts in one pass and starts the chunked upload
// for video posts. The video post handle is the created post URN.
func (c *Client) Initiate(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	if content.VideoURL != "" {
		postURN, err := c.initiateVideo(ctx, content)
		if err != nil {
			return nil, err
		}
		return &platforms.Initiation{Handle: postURN}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	if len(content.MediaURLs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "linkedin publish requires at least one media url")
	}

	imageURNs := make([]string, 0, len(content.MediaURLs))
	for _, mediaURL := range content.MediaURLs {
		urn, err := c.uploadImage(ctx, mediaURL)
		if err != nil {
			return nil, err
		}
		imageURNs = append(imageURNs, urn)
	}

	postURN, err := c.createPost(ctx, content.Caption, imageContent(imageURNs))
	if err != nil {
		return nil, err
	}
	return &platforms.Initiation{
		Handle: postURN,
		Post:   &platforms.PostRef{ID: postURN, URL: fmt.Sprintf(feedUpdateURLFormat, postURN)},
	}, nil
}

// PollStatus reads the post lifecycle state, used for video posts that
// LinkedIn processes after creation.
func (c *Client) PollStatus(ctx context.Context, job platforms.Job) (*platforms.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.StatusTimeout)
	defer cancel()

	c.log(ctx, "request", "post_status", map[string]any{"post_urn": job.Handle})
	var resp struct {
		LifecycleState string `json:"lifecycleState"`
	}
	endpoint := c.baseURL + "/rest/posts/" + url.PathEscape(job.Handle)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp, nil); err != nil {
		return nil, err
	}

	switch resp.LifecycleState {
	case lifecyclePublished:
		return &platforms.Poll{
			Done: true,
			Post: &platforms.PostRef{ID: job.Handle, URL: fmt.Sprintf(feedUpdateURLFormat, job.Handle)},
		}, nil
	case lifecyclePublishFailed:
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "linkedin failed to process the video post").
			WithDetails(map[string]any{"post_urn": job.Handle})
	default:
		return &platforms.Poll{Done: false}, nil
	}
}

// Finalize re-reads the post state. LinkedIn posts carry no extra publish
// step, so the reference comes from the lifecycle check.
func (c *Client) Finalize(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	poll, err := c.PollStatus(ctx, job)
	if err != nil {
		return nil, err
	}
	if !poll.Done || poll.Post == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransient, "linkedin post not yet published")
	}
	return poll.Post, nil
}

func (c *Client) uploadImage(ctx context.Context, mediaURL string) (string, error) {
	c.log(ctx, "request", "image_initialize_upload", nil)
	var resp struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	body := map[string]any{"initializeUploadRequest": map[string]any{"owner": c.author}}
	endpoint := c.baseURL + "/rest/images?action=initializeUpload"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &resp, nil); err != nil {
		return "", err
	}
	if resp.Value.UploadURL == "" || resp.Value.Image == "" {
		return "", pkgerrors.New(pkgerrors.CodePlatform, "linkedin image upload initialization returned no upload target")
	}

	data, err := c.fetchStaged(ctx, mediaURL, "")
	if err != nil {
		return "", err
	}
	if _, err := c.putBinary(ctx, resp.Value.UploadURL, data); err != nil {
		return "", err
	}
	return resp.Value.Image, nil
}

func imageContent(urns []string) map[string]any {
	if len(urns) == 1 {
		return map[string]any{"media": map[string]any{"id": urns[0]}}
	}
	images := make([]map[string]any, 0, len(urns))
	for _, urn := range urns {
		images = append(images, map[string]any{"id": urn})
	}
	return map[string]any{"multiImage": map[string]any{"images": images}}
}

// createPost creates the feed post. The created URN arrives in the
// x-restli-id response header, not the body.
func (c *Client) createPost(ctx context.Context, commentary string, content map[string]any) (string, error) {
	body := map[string]any{
		"author":     c.author,
		"commentary": commentary,
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"content":                   content,
		"lifecycleState":            lifecyclePublished,
		"isReshareDisabledByAuthor": false,
	}

	c.log(ctx, "request", "create_post", nil)
	var postURN string
	capture := func(resp *http.Response) {
		postURN = resp.Header.Get("X-RestLi-Id")
		if postURN == "" {
			postURN = resp.Header.Get("X-Restli-Id")
		}
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/rest/posts", body, nil, capture); err != nil {
		return "", err
	}
	if postURN == "" {
		return "", pkgerrors.New(pkgerrors.CodePlatform, "linkedin post creation returned no restli id")
	}
	return postURN, nil
}

// fetchStaged downloads staged bytes, optionally a byte range.
func (c *Client) fetchStaged(ctx context.Context, stagedURL, byteRange string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stagedURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building staged media request")
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "fetching staged media")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeStaging, fmt.Sprintf("staged media fetch returned %s", resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "reading staged media")
	}
	return data, nil
}

// putBinary uploads raw bytes to a LinkedIn-provided upload URL and returns
// the ETag header that finalizeUpload needs for chunked videos.
func (c *Client) putBinary(ctx context.Context, uploadURL string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building linkedin upload request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "linkedin binary upload failed")
	}
	defer c.closeBody(ctx, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("linkedin binary upload returned %s", resp.Status))
	}
	return resp.Header.Get("ETag"), nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, out any, onResponse func(*http.Response)) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding linkedin request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building linkedin request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("LinkedIn-Version", c.version)
	req.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "linkedin request failed")
	}
	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return c.errorFromResponse(resp)
	}
	if onResponse != nil {
		onResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decoding linkedin response")
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var payload struct {
		Message     string `json:"message"`
		ServiceCode int    `json:"serviceErrorCode"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	message := payload.Message
	if message == "" {
		message = fmt.Sprintf("linkedin returned %s", resp.Status)
	}
	details := map[string]any{"service_error_code": payload.ServiceCode, "http_status": resp.StatusCode}
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
		c.logger.Warn(ctx, "linkedin: closing response body failed")
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
	c.logger.Info(ctx, fmt.Sprintf("linkedin %s", phase))
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(client doer) *Client {
	c.http = client
	return c
}

// WithBaseURL points the client at a different REST host, mainly for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}
