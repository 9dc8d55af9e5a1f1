package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/geniolibre/publisher-backend/pkg/db/models"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

const downloadTimeout = 60 * time.Second

var (
	errStoreRequired  = errors.New("staging object store is required")
	errLoggerRequired = errors.New("staging logger is required")
)

// extensionByMime is the staging allow-list. Anything else is rejected
// before a single byte moves.
var extensionByMime = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"video/mp4":  "mp4",
}

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"mp4":  true,
}

// ObjectStore is the slice of the S3 client the staging service uses.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StagedObject is one attachment copied into publicly reachable storage.
type StagedObject struct {
	AttachmentID uuid.UUID
	Key          string
	URL          string
	IsVideo      bool
}

// Service copies publication attachments from their source URLs into the
// public bucket. Staging is all or nothing: a failure rolls back every
// object uploaded so far.
type Service struct {
	store  ObjectStore
	http   doer
	logger *logger.Logger
	now    func() time.Time
	randN  func(n int) int
}

func NewService(store ObjectStore, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, errStoreRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	return &Service{
		store:  store,
		http:   &http.Client{Timeout: downloadTimeout},
		logger: logg,
		now:    time.Now,
		randN:  func(n int) int { return rand.IntN(n) },
	}, nil
}

// Stage copies every attachment in order. The returned slice matches the
// attachment order, so callers can map staged URLs back onto positions.
func (s *Service) Stage(ctx context.Context, publicationID uuid.UUID, attachments []models.PublicationAttachment) ([]StagedObject, error) {
	if len(attachments) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publication has no attachments to stage")
	}

	for _, attachment := range attachments {
		if _, err := s.extensionFor(attachment); err != nil {
			return nil, err
		}
	}

	staged := make([]StagedObject, 0, len(attachments))
	for idx, attachment := range attachments {
		object, err := s.stageOne(ctx, publicationID, attachment, idx)
		if err != nil {
			s.rollback(ctx, staged)
			return nil, err
		}
		staged = append(staged, *object)
	}

	logCtx := s.logger.WithFields(ctx, map[string]any{
		"publication_id": publicationID,
		"objects":        len(staged),
	})
	s.logger.Info(logCtx, "attachments staged")
	return staged, nil
}

func (s *Service) stageOne(ctx context.Context, publicationID uuid.UUID, attachment models.PublicationAttachment, idx int) (*StagedObject, error) {
	ext, err := s.extensionFor(attachment)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.SourceURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "building source download request")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "downloading source media")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeStaging, fmt.Sprintf("source media returned %s", resp.Status)).
			WithDetails(map[string]any{"attachment_id": attachment.ID})
	}

	key := s.objectKey(publicationID, ext, idx)
	url, err := s.store.Upload(ctx, key, attachment.MimeType, resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStaging, err, "uploading staged media")
	}

	return &StagedObject{
		AttachmentID: attachment.ID,
		Key:          key,
		URL:          url,
		IsVideo:      attachment.IsVideo,
	}, nil
}

// Discard removes staged objects, collecting rather than aborting on
// individual failures.
func (s *Service) Discard(ctx context.Context, publicationID uuid.UUID, stagedURLs []string) error {
	var combined error
	for _, stagedURL := range stagedURLs {
		if stagedURL == "" {
			continue
		}
		key := s.keyFromURL(publicationID, stagedURL)
		if err := s.store.Delete(ctx, key); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("discarding %s: %w", key, err))
		}
	}
	return combined
}

func (s *Service) rollback(ctx context.Context, staged []StagedObject) {
	for _, object := range staged {
		if err := s.store.Delete(ctx, object.Key); err != nil {
			logCtx := s.logger.WithField(ctx, "object_key", object.Key)
			s.logger.Warn(logCtx, "staging rollback left an orphaned object")
		}
	}
}

func (s *Service) extensionFor(attachment models.PublicationAttachment) (string, error) {
	if ext, ok := extensionByMime[strings.ToLower(attachment.MimeType)]; ok {
		return ext, nil
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(attachment.FileName), "."))
	if allowedExtensions[ext] {
		return ext, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "attachment type is not allowed for staging").
		WithDetails(map[string]any{
			"attachment_id": attachment.ID,
			"mime_type":     attachment.MimeType,
			"file_name":     attachment.FileName,
		})
}

func (s *Service) objectKey(publicationID uuid.UUID, ext string, idx int) string {
	name := fmt.Sprintf("media_%d_%05d-%d.%s", s.now().Unix(), s.randN(100000), idx, ext)
	return fmt.Sprintf("publications/%s/%s", publicationID, name)
}

func (s *Service) keyFromURL(publicationID uuid.UUID, stagedURL string) string {
	return fmt.Sprintf("publications/%s/%s", publicationID, path.Base(stagedURL))
}

// WithHTTPClient swaps the download transport, mainly for tests.
func (s *Service) WithHTTPClient(client doer) *Service {
	s.http = client
	return s
}
