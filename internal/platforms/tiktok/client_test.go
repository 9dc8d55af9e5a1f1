package tiktok

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/pkg/config"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.TikTokConfig{
		BaseURL:      server.URL,
		AccessToken:  "token",
		PrivacyLevel: "PUBLIC_TO_EVERYONE",
	}, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return client.WithHTTPClient(server.Client())
}

func TestInitiateUsesPullFromURL(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != videoInitPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var body struct {
			PostInfo struct {
				Title        string `json:"title"`
				PrivacyLevel string `json:"privacy_level"`
			} `json:"post_info"`
			SourceInfo struct {
				Source   string `json:"source"`
				VideoURL string `json:"video_url"`
			} `json:"source_info"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.SourceInfo.Source != "PULL_FROM_URL" {
			t.Fatalf("expected PULL_FROM_URL source, got %q", body.SourceInfo.Source)
		}
		if body.SourceInfo.VideoURL != "https://cdn/v.mp4" {
			t.Fatalf("video url not forwarded")
		}
		if body.PostInfo.PrivacyLevel != "PUBLIC_TO_EVERYONE" {
			t.Fatalf("privacy level not forwarded, got %q", body.PostInfo.PrivacyLevel)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]string{"publish_id": "pub-1"},
			"error": map[string]string{"code": "ok"},
		})
	}))

	init, err := client.Initiate(context.Background(), platforms.Content{
		Title:    "my video",
		VideoURL: "https://cdn/v.mp4",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Handle != "pub-1" {
		t.Fatalf("unexpected handle %q", init.Handle)
	}
	if init.Post != nil {
		t.Fatalf("tiktok publish is always async")
	}
}

func TestPollStatusReadsBothPostIDSpellings(t *testing.T) {
	// The field name and its value shape both vary across API deployments:
	// scalar or array, string or number.
	cases := []struct {
		name  string
		field string
		value any
	}{
		{name: "legacy spelling string array", field: "publicaly_available_post_id", value: []string{"7301"}},
		{name: "corrected spelling string array", field: "publicly_available_post_id", value: []string{"7301"}},
		{name: "scalar string", field: "publicaly_available_post_id", value: "7301"},
		{name: "scalar number", field: "publicaly_available_post_id", value: 7301},
		{name: "number array", field: "publicaly_available_post_id", value: []int64{7301}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != statusFetchPath {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(map[string]any{
					"data": map[string]any{
						"status": "PUBLISH_COMPLETE",
						tc.field: tc.value,
					},
					"error": map[string]string{"code": "ok"},
				})
			}))

			poll, err := client.PollStatus(context.Background(), platforms.Job{Handle: "pub-1"})
			if err != nil {
				t.Fatalf("poll failed: %v", err)
			}
			if !poll.Done || poll.Post == nil {
				t.Fatalf("expected completed poll with post, got %+v", poll)
			}
			if poll.Post.ID != "7301" {
				t.Fatalf("post id not read from %s", tc.field)
			}
			if poll.Post.URL != "https://www.tiktok.com/@_/video/7301" {
				t.Fatalf("unexpected post url %q", poll.Post.URL)
			}
		})
	}
}

func TestPollStatusTerminalFailureCarriesFailReason(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]string{"status": "PUBLISH_FAILED", "fail_reason": "video too long"},
			"error": map[string]string{"code": "ok"},
		})
	}))

	_, err := client.PollStatus(context.Background(), platforms.Job{Handle: "pub-1"})
	if err == nil {
		t.Fatalf("expected terminal failure")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodePlatform {
		t.Fatalf("expected platform error, got %s", pkgerrors.CodeOf(err))
	}
	typed := pkgerrors.As(err)
	if typed.Message() != "video too long" {
		t.Fatalf("fail reason not preserved, got %q", typed.Message())
	}
}

func TestPollStatusInProgress(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]string{"status": "PROCESSING_DOWNLOAD"},
			"error": map[string]string{"code": "ok"},
		})
	}))

	poll, err := client.PollStatus(context.Background(), platforms.Job{Handle: "pub-1"})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if poll.Done {
		t.Fatalf("download phase must report in progress")
	}
}

func TestErrorEnvelopeOnHTTP200IsAnError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]any{},
			"error": map[string]string{"code": "spam_risk_too_many_posts", "message": "daily post cap reached"},
		})
	}))

	_, err := client.Initiate(context.Background(), platforms.Content{VideoURL: "https://cdn/v.mp4"})
	if err == nil {
		t.Fatalf("expected error from envelope code")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodePlatform {
		t.Fatalf("expected platform error, got %s", pkgerrors.CodeOf(err))
	}
}

func TestCreatorInfo(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != creatorInfoQueryPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"can_publish":                 true,
				"max_video_post_duration_sec": 600,
			},
			"error": map[string]string{"code": "ok"},
		})
	}))

	info, err := client.CreatorInfo(context.Background())
	if err != nil {
		t.Fatalf("creator info failed: %v", err)
	}
	if !info.CanPublish || info.MaxVideoPostDurationSec != 600 {
		t.Fatalf("unexpected creator info %+v", info)
	}
}

func TestFinalizeRequiresCompletedPublish(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  map[string]string{"status": "PROCESSING_UPLOAD"},
			"error": map[string]string{"code": "ok"},
		})
	}))

	_, err := client.Finalize(context.Background(), platforms.Job{Handle: "pub-1"})
	if err == nil {
		t.Fatalf("expected error for incomplete publish")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeTransient {
		t.Fatalf("expected transient error, got %s", pkgerrors.CodeOf(err))
	}
}
