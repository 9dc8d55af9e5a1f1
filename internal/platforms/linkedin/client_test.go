package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/pkg/config"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

func newTestClient(t *testing.T) (*Client, *http.ServeMux, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(config.LinkedInConfig{
		AccessToken:    "token",
		OrganizationID: "555",
		APIVersion:     "202505",
	}, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return client.WithBaseURL(server.URL).WithHTTPClient(server.Client()), mux, server
}

func TestInitiateImagesPublishesSynchronously(t *testing.T) {
	client, mux, server := newTestClient(t)

	var initCalls, putCalls int
	mux.HandleFunc("/rest/images", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "initializeUpload" {
			t.Fatalf("unexpected action %q", r.URL.RawQuery)
		}
		if got := r.Header.Get("LinkedIn-Version"); got != "202505" {
			t.Fatalf("missing version header, got %q", got)
		}
		initCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]string{
				"uploadUrl": server.URL + fmt.Sprintf("/upload/img-%d", initCalls),
				"image":     fmt.Sprintf("urn:li:image:%d", initCalls),
			},
		})
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("expected PUT upload, got %s", r.Method)
		}
		putCalls++
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/staged/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	})
	mux.HandleFunc("/rest/posts", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Author     string `json:"author"`
			Commentary string `json:"commentary"`
			Content    struct {
				MultiImage struct {
					Images []struct {
						ID string `json:"id"`
					} `json:"images"`
				} `json:"multiImage"`
			} `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode post body: %v", err)
		}
		if body.Author != "urn:li:organization:555" {
			t.Fatalf("unexpected author %q", body.Author)
		}
		if len(body.Content.MultiImage.Images) != 2 {
			t.Fatalf("expected 2 images attached, got %d", len(body.Content.MultiImage.Images))
		}
		w.Header().Set("X-RestLi-Id", "urn:li:share:900")
		w.WriteHeader(http.StatusCreated)
	})

	init, err := client.Initiate(context.Background(), platforms.Content{
		Caption:   "hello",
		MediaURLs: []string{server.URL + "/staged/a.jpg", server.URL + "/staged/b.jpg"},
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Post == nil || init.Post.ID != "urn:li:share:900" {
		t.Fatalf("image posts must publish synchronously, got %+v", init)
	}
	if init.Post.URL != "https://www.linkedin.com/feed/update/urn:li:share:900/" {
		t.Fatalf("unexpected post url %q", init.Post.URL)
	}
	if putCalls != 2 {
		t.Fatalf("expected 2 binary uploads, got %d", putCalls)
	}
}

func TestInitiateVideoUploadsChunksInOrder(t *testing.T) {
	client, mux, server := newTestClient(t)

	video := make([]byte, 20)
	for i := range video {
		video[i] = byte(i)
	}

	mux.HandleFunc("/staged/video.mp4", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(video)))
			return
		}
		var first, last int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &first, &last); err != nil {
			t.Fatalf("chunk fetch must use a byte range, got %q", r.Header.Get("Range"))
		}
		_, _ = w.Write(video[first : last+1])
	})

	var uploadedChunks []string
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		uploadedChunks = append(uploadedChunks, string(data))
		w.Header().Set("ETag", fmt.Sprintf("etag-%s", strings.TrimPrefix(r.URL.Path, "/upload/part-")))
		w.WriteHeader(http.StatusCreated)
	})

	var finalizedParts []string
	mux.HandleFunc("/rest/videos", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "initializeUpload":
			var body struct {
				Req struct {
					FileSizeBytes int64 `json:"fileSizeBytes"`
				} `json:"initializeUploadRequest"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode init body: %v", err)
			}
			if body.Req.FileSizeBytes != int64(len(video)) {
				t.Fatalf("file size not taken from HEAD, got %d", body.Req.FileSizeBytes)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": map[string]any{
					"video":       "urn:li:video:77",
					"uploadToken": "tok-77",
					"uploadInstructions": []map[string]any{
						{"uploadUrl": server.URL + "/upload/part-1", "firstByte": 0, "lastByte": 9},
						{"uploadUrl": server.URL + "/upload/part-2", "firstByte": 10, "lastByte": 19},
					},
				},
			})
		case "finalizeUpload":
			var body struct {
				Req struct {
					Video           string   `json:"video"`
					UploadToken     string   `json:"uploadToken"`
					UploadedPartIDs []string `json:"uploadedPartIds"`
				} `json:"finalizeUploadRequest"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode finalize body: %v", err)
			}
			if body.Req.UploadToken != "tok-77" {
				t.Fatalf("finalize must echo the upload token, got %q", body.Req.UploadToken)
			}
			finalizedParts = body.Req.UploadedPartIDs
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected videos action %q", r.URL.RawQuery)
		}
	})
	mux.HandleFunc("/rest/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RestLi-Id", "urn:li:share:901")
		w.WriteHeader(http.StatusCreated)
	})

	init, err := client.Initiate(context.Background(), platforms.Content{
		Caption:  "video post",
		VideoURL: server.URL + "/staged/video.mp4",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if init.Post != nil {
		t.Fatalf("video posts must stay asynchronous")
	}
	if init.Handle != "urn:li:share:901" {
		t.Fatalf("handle must be the post urn, got %q", init.Handle)
	}
	if len(uploadedChunks) != 2 || uploadedChunks[0] != string(video[:10]) || uploadedChunks[1] != string(video[10:]) {
		t.Fatalf("chunks uploaded out of order or incomplete")
	}
	if len(finalizedParts) != 2 || finalizedParts[0] != "etag-1" || finalizedParts[1] != "etag-2" {
		t.Fatalf("finalize must receive ordered etags, got %v", finalizedParts)
	}
}

func TestPollStatusLifecycleStates(t *testing.T) {
	cases := []struct {
		state   string
		done    bool
		wantErr bool
	}{
		{state: "PROCESSING", done: false},
		{state: "PUBLISHED", done: true},
		{state: "PUBLISH_FAILED", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			client, mux, _ := newTestClient(t)
			mux.HandleFunc("/rest/posts/", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"lifecycleState": tc.state})
			})

			poll, err := client.PollStatus(context.Background(), platforms.Job{Handle: "urn:li:share:901"})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tc.state)
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
				t.Fatalf("state %s: expected done=%v", tc.state, tc.done)
			}
			if tc.done && (poll.Post == nil || poll.Post.ID != "urn:li:share:901") {
				t.Fatalf("published poll must carry the post ref, got %+v", poll)
			}
		})
	}
}

func TestErrorFromResponsePreservesServiceMessage(t *testing.T) {
	client, mux, _ := newTestClient(t)
	mux.HandleFunc("/rest/images", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":          "token lacks w_organization_social",
			"serviceErrorCode": 100,
		})
	})

	_, err := client.Initiate(context.Background(), platforms.Content{
		MediaURLs: []string{"https://cdn/a.jpg"},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodePlatform {
		t.Fatalf("expected platform error, got %s", pkgerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "w_organization_social") {
		t.Fatalf("expected remote message preserved, got %v", err)
	}
}
