package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

const (
	videoInitPath        = "/v2/post/publish/video/init/"
	statusFetchPath      = "/v2/post/publish/status/fetch/"
	creatorInfoQueryPath = "/v2/post/publish/creator_info/query/"

	sourcePullFromURL = "PULL_FROM_URL"

	statusPublishComplete = "PUBLISH_COMPLETE"
	statusFailed          = "FAILED"
	statusError           = "ERROR"
	statusPublishFailed   = "PUBLISH_FAILED"

	apiCodeOK = "ok"

	videoURLFormat = "https://www.tiktok.com/@_/video/%s"
)

var (
	errTokenRequired  = errors.New("tiktok access token is required")
	errLoggerRequired = errors.New("tiktok logger is required")
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client drives the Content Posting API. Videos are ingested by TikTok
// itself via PULL_FROM_URL, so publishing is always asynchronous.
type Client struct {
	http         doer
	baseURL      string
	token        string
	privacyLevel string
	logger       *logger.Logger
}

// CreatorInfo is the account capability snapshot checked before a publish.
type CreatorInfo struct {
	CanPublish              bool `json:"can_publish"`
	MaxVideoPostDurationSec int  `json:"max_video_post_duration_sec"`
}

func NewClient(cfg config.TikTokConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errTokenRequired
	}
	return &Client{
		http:         &http.Client{Timeout: platforms.InitiateTimeout},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		token:        cfg.AccessToken,
		privacyLevel: cfg.PrivacyLevel,
		logger:       logg,
	}, nil
}

func (c *Client) Platform() enums.Platform {
	return enums.PlatformTikTok
}

// CreatorInfo fetches the posting limits for the connected account.
func (c *Client) CreatorInfo(ctx context.Context) (*CreatorInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.StatusTimeout)
	defer cancel()

	c.log(ctx, "request", "creator_info", nil)
	var resp struct {
		Data CreatorInfo `json:"data"`
	}
	if err := c.postJSON(ctx, creatorInfoQueryPath, map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Initiate asks TikTok to pull the staged video. The returned handle is the
// publish id used for all later status checks.
func (c *Client) Initiate(ctx context.Context, content platforms.Content) (*platforms.Initiation, error) {
	if content.VideoURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tiktok publish requires a staged video url")
	}

	ctx, cancel := context.WithTimeout(ctx, platforms.InitiateTimeout)
	defer cancel()

	body := map[string]any{
		"post_info": map[string]any{
			"title":         content.Title,
			"privacy_level": c.privacyLevel,
		},
		"source_info": map[string]any{
			"source":    sourcePullFromURL,
			"video_url": content.VideoURL,
		},
	}

	c.log(ctx, "request", "video_init", map[string]any{"publication_id": content.PublicationID})
	var resp struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, videoInitPath, body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.PublishID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "tiktok video init returned no publish id")
	}
	return &platforms.Initiation{Handle: resp.Data.PublishID}, nil
}

// PollStatus reads the publish state. On completion the post id is reported
// under two field spellings depending on the API deployment, so both are read.
func (c *Client) PollStatus(ctx context.Context, job platforms.Job) (*platforms.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, platforms.StatusTimeout)
	defer cancel()

	c.log(ctx, "request", "status_fetch", map[string]any{"publish_id": job.Handle})
	var resp struct {
		Data struct {
			Status           string     `json:"status"`
			FailReason       string     `json:"fail_reason"`
			PostIDsMisspelt  postIDList `json:"publicaly_available_post_id"`
			PostIDsCorrected postIDList `json:"publicly_available_post_id"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, statusFetchPath, map[string]any{"publish_id": job.Handle}, &resp); err != nil {
		return nil, err
	}

	switch resp.Data.Status {
	case statusPublishComplete:
		post := &platforms.PostRef{}
		ids := resp.Data.PostIDsMisspelt
		if len(ids) == 0 {
			ids = resp.Data.PostIDsCorrected
		}
		if len(ids) > 0 {
			post.ID = ids[0]
			post.URL = fmt.Sprintf(videoURLFormat, ids[0])
		}
		return &platforms.Poll{Done: true, Post: post}, nil
	case statusFailed, statusError, statusPublishFailed:
		message := resp.Data.FailReason
		if message == "" {
			message = "tiktok publish failed"
		}
		return nil, pkgerrors.New(pkgerrors.CodePlatform, message).
			WithDetails(map[string]any{"status": resp.Data.Status})
	default:
		return &platforms.Poll{Done: false}, nil
	}
}

// Finalize re-checks the publish state. TikTok has no separate publish call,
// so the post reference comes straight from the status endpoint.
func (c *Client) Finalize(ctx context.Context, job platforms.Job) (*platforms.PostRef, error) {
	poll, err := c.PollStatus(ctx, job)
	if err != nil {
		return nil, err
	}
	if !poll.Done || poll.Post == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransient, "tiktok publish not yet complete")
	}
	return poll.Post, nil
}

// postIDList absorbs every shape the status endpoint has been seen returning
// for the published post id: a string, a bare number, or an array of either.
type postIDList []string

func (p *postIDList) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return err
	}
	*p = appendPostIDs(nil, value)
	return nil
}

func appendPostIDs(ids []string, value any) []string {
	switch v := value.(type) {
	case string:
		if v != "" {
			ids = append(ids, v)
		}
	case json.Number:
		ids = append(ids, v.String())
	case []any:
		for _, item := range v {
			ids = appendPostIDs(ids, item)
		}
	}
	return ids
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding tiktok request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building tiktok request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tiktok request failed")
	}
	defer c.closeBody(ctx, resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading tiktok response")
	}
	if err := c.errorFromResponse(resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decoding tiktok response")
	}
	return nil
}

// errorFromResponse inspects both the HTTP status and the embedded error
// envelope: TikTok reports failures with code != "ok" even on HTTP 200.
func (c *Client) errorFromResponse(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)

	if status < http.StatusBadRequest && (envelope.Error.Code == "" || envelope.Error.Code == apiCodeOK) {
		return nil
	}

	message := envelope.Error.Message
	if message == "" {
		message = fmt.Sprintf("tiktok returned status %d", status)
	}
	details := map[string]any{"api_code": envelope.Error.Code, "http_status": status}
	if status == http.StatusTooManyRequests || envelope.Error.Code == "rate_limit_exceeded" {
		return pkgerrors.New(pkgerrors.CodeRateLimit, message).WithDetails(details)
	}
	return pkgerrors.New(pkgerrors.CodePlatform, message).WithDetails(details)
}

func (c *Client) closeBody(ctx context.Context, body io.Closer) {
	if body == nil {
		return
	}
	if err := body.Close(); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "tiktok: closing response body failed")
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
	c.logger.Info(ctx, fmt.Sprintf("tiktok %s", phase))
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(client doer) *Client {
	c.http = client
	return c
}

// WithBaseURL points the client at a different host, mainly for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}
