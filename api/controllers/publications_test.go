package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/geniolibre/publisher-backend/internal/publications"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/types"
)

type fakePublicationsService struct {
	createInput *publications.CreateInput
	publishID   uuid.UUID
	scheduleAt  time.Time
	status      *publications.Status
	err         error
}

func (f *fakePublicationsService) Create(_ context.Context, input publications.CreateInput) (*publications.Status, error) {
	f.createInput = &input
	return f.status, f.err
}

func (f *fakePublicationsService) Approve(_ context.Context, id uuid.UUID) (*publications.Status, error) {
	f.publishID = id
	return f.status, f.err
}

func (f *fakePublicationsService) Publish(_ context.Context, id uuid.UUID) (*publications.Status, error) {
	f.publishID = id
	return f.status, f.err
}

func (f *fakePublicationsService) Reconcile(_ context.Context, id uuid.UUID) (*publications.Status, error) {
	f.publishID = id
	return f.status, f.err
}

func (f *fakePublicationsService) ReconcileAll(context.Context) error { return f.err }

func (f *fakePublicationsService) Schedule(_ context.Context, id uuid.UUID, publishAt time.Time) (*publications.Status, error) {
	f.publishID = id
	f.scheduleAt = publishAt
	return f.status, f.err
}

func (f *fakePublicationsService) Cancel(_ context.Context, id uuid.UUID) (*publications.Status, error) {
	f.publishID = id
	return f.status, f.err
}

func (f *fakePublicationsService) GetStatus(_ context.Context, id uuid.UUID) (*publications.Status, error) {
	f.publishID = id
	return f.status, f.err
}

func (f *fakePublicationsService) Delete(_ context.Context, id uuid.UUID) error {
	f.publishID = id
	return f.err
}

func newPublicationRouter(svc publications.Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/publications", PublicationCreate(svc, nil))
	r.Route("/publications/{publicationId}", func(r chi.Router) {
		r.Get("/", PublicationStatus(svc, nil))
		r.Delete("/", PublicationDelete(svc, nil))
		r.Post("/publish", PublicationPublish(svc, nil))
		r.Post("/schedule", PublicationSchedule(svc, nil))
	})
	return r
}

func baseStatus() *publications.Status {
	return &publications.Status{
		ID:          uuid.New(),
		GlobalPhase: enums.PhasePending,
		ReviewState: enums.ReviewStateDraft,
		MediaType:   enums.PublicationMediaFeed.String(),
	}
}

func TestPublicationCreatePassesSanitizedInput(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"title":       "  launch day  ",
		"description": "big news",
		"hashtags":    []string{"go"},
		"media_type":  "feed",
		"platforms":   []string{"facebook", "linkedin"},
		"attachments": []map[string]any{
			{"file_name": "a.jpg", "mime_type": "image/jpeg", "source_url": "https://cdn.example.com/a.jpg"},
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications", bytes.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if svc.createInput == nil {
		t.Fatal("service never called")
	}
	if svc.createInput.Title != "launch day" {
		t.Fatalf("title not sanitized: %q", svc.createInput.Title)
	}
	if len(svc.createInput.Platforms) != 2 || svc.createInput.Platforms[1] != enums.PlatformLinkedIn {
		t.Fatalf("platforms not parsed: %v", svc.createInput.Platforms)
	}
}

func TestPublicationCreateRejectsUnknownPlatform(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"media_type": "feed",
		"platforms":  []string{"myspace"},
		"attachments": []map[string]any{
			{"file_name": "a.jpg", "mime_type": "image/jpeg", "source_url": "https://cdn.example.com/a.jpg"},
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications", bytes.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if svc.createInput != nil {
		t.Fatal("service must not be called for invalid platforms")
	}
}

func TestPublicationCreateRejectsMissingAttachments(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"media_type": "feed",
		"platforms":  []string{"facebook"},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications", bytes.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPublicationPublishParsesID(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)
	id := uuid.New()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications/"+id.String()+"/publish", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.publishID != id {
		t.Fatalf("expected service call with %s, got %s", id, svc.publishID)
	}
}

func TestPublicationPublishRejectsMalformedID(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications/not-a-uuid/publish", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if svc.publishID != uuid.Nil {
		t.Fatal("service must not be called for malformed ids")
	}
}

func TestPublicationScheduleForwardsTimestamp(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)
	id := uuid.New()
	at := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)

	body, _ := json.Marshal(map[string]any{"publish_at": at.Format(time.RFC3339)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/publications/"+id.String()+"/schedule", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !svc.scheduleAt.Equal(at) {
		t.Fatalf("expected schedule at %s, got %s", at, svc.scheduleAt)
	}
}

func TestPublicationStatusMapsServiceErrors(t *testing.T) {
	svc := &fakePublicationsService{err: pkgerrors.New(pkgerrors.CodeNotFound, "publication not found")}
	router := newPublicationRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/publications/"+uuid.NewString()+"/", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}

func TestPublicationDelete(t *testing.T) {
	svc := &fakePublicationsService{status: baseStatus()}
	router := newPublicationRouter(svc)
	id := uuid.New()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/publications/"+id.String()+"/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.publishID != id {
		t.Fatalf("expected delete of %s, got %s", id, svc.publishID)
	}
}
