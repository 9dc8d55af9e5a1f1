package facebook

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

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.FacebookConfig{
		APIVersion:      "v21.0",
		PageID:          "page-1",
		PageAccessToken: "token",
	}, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return client.WithBaseURL(server.URL).WithHTTPClient(server.Client()), server
}

func TestInitiateFeedUploadsUnpublishedPhotos(t *testing.T) {
	var photoCalls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/page-1/photos") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("published") != "false" {
			t.Fatalf("photos must be uploaded unpublished, got %q", r.Form.Get("published"))
		}
		photoCalls++
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("photo-%d", photoCalls)})
	}))

	init, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaFeed,
		Caption:   "hello",
		MediaURLs: []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Handle != "photo-1,photo-2" {
		t.Fatalf("unexpected handle %q", init.Handle)
	}
	if init.Post != nil {
		t.Fatalf("feed initiate must not return a post")
	}
	if photoCalls != 2 {
		t.Fatalf("expected 2 photo uploads, got %d", photoCalls)
	}
}

func TestFinalizeFeedAttachesAllPhotos(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/page-1/feed") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("attached_media[0]"); got != `{"media_fbid":"photo-1"}` {
			t.Fatalf("unexpected attached media %q", got)
		}
		if got := r.Form.Get("attached_media[1]"); got != `{"media_fbid":"photo-2"}` {
			t.Fatalf("unexpected attached media %q", got)
		}
		if r.Form.Get("message") != "hello" {
			t.Fatalf("caption not forwarded")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "123"})
	}))

	post, err := client.Finalize(context.Background(), platforms.Job{
		Handle:  "photo-1,photo-2",
		Content: platforms.Content{MediaType: enums.PublicationMediaFeed, Caption: "hello"},
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if post.ID != "123" || post.URL != "https://www.facebook.com/123" {
		t.Fatalf("unexpected post ref %+v", post)
	}
}

func TestPollReelStillRenderingCodesAreInProgress(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "still processing", "code": 9007},
		})
	}))

	poll, err := client.PollStatus(context.Background(), platforms.Job{
		Handle:  "vid-1",
		Content: platforms.Content{MediaType: enums.PublicationMediaReel},
	})
	if err != nil {
		t.Fatalf("9007 must not be an error: %v", err)
	}
	if poll.Done {
		t.Fatalf("expected in-progress poll")
	}
}

func TestPollReelCompleteUploadPhase(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"uploading_phase": map[string]any{"status": "complete"}},
		})
	}))

	poll, err := client.PollStatus(context.Background(), platforms.Job{
		Handle:  "vid-1",
		Content: platforms.Content{MediaType: enums.PublicationMediaReel},
	})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if !poll.Done || poll.Post != nil {
		t.Fatalf("expected done without post, got %+v", poll)
	}
}

func TestInitiateStoryIsImmediatelyPublished(t *testing.T) {
	client, server := newTestClient(t, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/page-1/video_stories", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.Form.Get("upload_phase") {
		case "start":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"video_id":   "story-1",
				"upload_url": server.URL + "/upload/story-1",
			})
		case "finish":
			_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
		default:
			t.Fatalf("unexpected upload phase %q", r.Form.Get("upload_phase"))
		}
	})
	mux.HandleFunc("/upload/story-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("file_url") == "" {
			t.Fatalf("expected file_url header on binary upload")
		}
		w.WriteHeader(http.StatusOK)
	})
	server.Config.Handler = mux

	init, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaStory,
		VideoURL:  "https://cdn/story.mp4",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Post == nil || init.Post.ID != "story-1" {
		t.Fatalf("story must publish on handle creation, got %+v", init)
	}
	if init.Post.URL != "" {
		t.Fatalf("stories have no permalink, got %q", init.Post.URL)
	}
}

func TestErrorFromResponseMapsPermanentFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid token", "code": 190},
		})
	}))

	_, err := client.Initiate(context.Background(), platforms.Content{
		MediaType: enums.PublicationMediaFeed,
		MediaURLs: []string{"https://cdn/a.jpg"},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodePlatform {
		t.Fatalf("expected platform error, got %s", pkgerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("expected remote message preserved, got %v", err)
	}
}
