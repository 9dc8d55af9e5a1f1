package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.InstagramConfig{
		APIVersion:        "v21.0",
		BusinessAccountID: "ig-1",
		AccessToken:       "token",
	}, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return client.WithBaseURL(server.URL).WithHTTPClient(server.Client())
}

func TestInitiateSingleImageCreatesContainer(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ig-1/media") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("image_url") != "https://cdn/a.jpg" {
			t.Fatalf("image url not forwarded, got %q", r.Form.Get("image_url"))
		}
		if r.Form.Get("caption") != "hello" {
			t.Fatalf("caption not forwarded")
		}
		if r.Form.Get("is_carousel_item") != "" {
			t.Fatalf("single image must not be a carousel item")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "container-1"})
	}))

	init, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaFeed,
		Caption:   "hello",
		MediaURLs: []string{"https://cdn/a.jpg"},
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Handle != "container-1" {
		t.Fatalf("unexpected handle %q", init.Handle)
	}
	if init.Post != nil {
		t.Fatalf("instagram publish is always async")
	}
}

func TestInitiateCarouselCreatesChildrenThenParent(t *testing.T) {
	var containers int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		containers++
		if r.Form.Get("media_type") == "CAROUSEL" {
			if containers != 3 {
				t.Fatalf("parent must be created after children, call %d", containers)
			}
			if r.Form.Get("children") != "child-1,child-2" {
				t.Fatalf("unexpected children %q", r.Form.Get("children"))
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "parent-1"})
			return
		}
		if r.Form.Get("is_carousel_item") != "true" {
			t.Fatalf("child containers must set is_carousel_item")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("child-%d", containers)})
	}))

	init, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaFeed,
		Caption:   "carousel",
		MediaURLs: []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Handle != "parent-1" {
		t.Fatalf("unexpected handle %q", init.Handle)
	}
}

func TestInitiateReelSendsVideoAndCover(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("media_type") != "REELS" {
			t.Fatalf("expected REELS container, got %q", r.Form.Get("media_type"))
		}
		if r.Form.Get("video_url") != "https://cdn/v.mp4" {
			t.Fatalf("video url not forwarded")
		}
		if r.Form.Get("cover_url") != "https://cdn/c.jpg" {
			t.Fatalf("cover url not forwarded")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "reel-1"})
	}))

	init, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaReel,
		VideoURL:  "https://cdn/v.mp4",
		CoverURL:  "https://cdn/c.jpg",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Handle != "reel-1" {
		t.Fatalf("unexpected handle %q", init.Handle)
	}
}

func TestPollStatusTransitions(t *testing.T) {
	cases := []struct {
		statusCode string
		done       bool
		wantErr    bool
	}{
		{statusCode: "IN_PROGRESS", done: false},
		{statusCode: "PROCESSING", done: false},
		{statusCode: "FINISHED", done: true},
		{statusCode: "ERROR", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.statusCode, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("fields") != "status_code" {
					t.Fatalf("expected status_code fields query, got %q", r.URL.RawQuery)
				}
				_ = json.NewEncoder(w).Encode(map[string]string{"status_code": tc.statusCode})
			}))

			poll, err := client.PollStatus(context.Background(), platforms.Job{Handle: "container-1"})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.statusCode)
				}
				if pkgerrors.CodeOf(err) != pkgerrors.CodePlatform {
					t.Fatalf("expected platform error, got %s", pkgerrors.CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("poll failed: %v", err)
			}
			if poll.Done != tc.done {
				t.Fatalf("status %s: expected done=%v", tc.statusCode, tc.done)
			}
		})
	}
}

func TestFinalizePublishesAndFetchesPermalink(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ig-1/media_publish"):
			_ = r.ParseForm()
			if r.Form.Get("creation_id") != "container-1" {
				t.Fatalf("expected creation_id container-1, got %q", r.Form.Get("creation_id"))
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "media-9"})
		case strings.HasSuffix(r.URL.Path, "/media-9"):
			_ = json.NewEncoder(w).Encode(map[string]string{"permalink": "https://www.instagram.com/p/abc/"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	post, err := client.Finalize(context.Background(), platforms.Job{Handle: "container-1"})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if post.ID != "media-9" || post.URL != "https://www.instagram.com/p/abc/" {
		t.Fatalf("unexpected post ref %+v", post)
	}
}

func TestFinalizeSurvivesPermalinkFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ig-1/media_publish") {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "media-9"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	post, err := client.Finalize(context.Background(), platforms.Job{Handle: "container-1"})
	if err != nil {
		t.Fatalf("finalize must not fail on permalink lookup: %v", err)
	}
	if post.ID != "media-9" || post.URL != "" {
		t.Fatalf("unexpected post ref %+v", post)
	}
}

func TestRateLimitMapsToRetryableError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "too many calls", "code": 4},
		})
	}))

	_, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaFeed,
		MediaURLs: []string{"https://cdn/a.jpg"},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeRateLimit {
		t.Fatalf("expected rate limit error, got %s", pkgerrors.CodeOf(err))
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("rate limit errors must be retryable")
	}
}
