package publications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/geniolibre/publisher-backend/internal/platforms"
	"github.com/geniolibre/publisher-backend/internal/platforms/tiktok"
	"github.com/geniolibre/publisher-backend/internal/staging"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/db/models"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
	"github.com/geniolibre/publisher-backend/pkg/metrics"
	"github.com/geniolibre/publisher-backend/pkg/outbox"
	"github.com/geniolibre/publisher-backend/pkg/outbox/payloads"
)

type publicationsRepository interface {
	Create(ctx context.Context, publication *models.Publication) (*models.Publication, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Publication, error)
	UpdateFieldsTx(tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	ListReconcilable(ctx context.Context, now time.Time, limit int) ([]models.Publication, error)
	SetAttachmentStaged(ctx context.Context, attachmentID uuid.UUID, stagedURL string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type stagingService interface {
	Stage(ctx context.Context, publicationID uuid.UUID, attachments []models.PublicationAttachment) ([]staging.StagedObject, error)
	Discard(ctx context.Context, publicationID uuid.UUID, stagedURLs []string) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	PublicationLockKey(publicationID string) string
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type creatorInfoAPI interface {
	CreatorInfo(ctx context.Context) (*tiktok.CreatorInfo, error)
}

// Service drives the publication lifecycle: manual publishes, the periodic
// reconcile sweep, scheduling, and teardown.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Status, error)
	Approve(ctx context.Context, id uuid.UUID) (*Status, error)
	Publish(ctx context.Context, id uuid.UUID) (*Status, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*Status, error)
	ReconcileAll(ctx context.Context) error
	Schedule(ctx context.Context, id uuid.UUID, publishAt time.Time) (*Status, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Status, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*Status, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo    publicationsRepository
	stager  stagingService
	locks   lockStore
	clients map[enums.Platform]platforms.Client
	creator creatorInfoAPI
	emitter eventEmitter
	tx      transactor
	metrics *metrics.PublishMetrics
	logg    *logger.Logger

	lockTTL     time.Duration
	sweepLimit  int
	concurrency int
	now         func() time.Time
}

// NewService wires the publication orchestrator.
func NewService(
	repo publicationsRepository,
	stager stagingService,
	locks lockStore,
	clients map[enums.Platform]platforms.Client,
	creator creatorInfoAPI,
	emitter eventEmitter,
	tx transactor,
	publishMetrics *metrics.PublishMetrics,
	cfg config.PublisherConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("publication repository required")
	}
	if stager == nil {
		return nil, fmt.Errorf("staging service required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one platform client required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if cfg.EntityLockTTL <= 0 {
		cfg.EntityLockTTL = 2 * time.Minute
	}
	return &service{
		repo:        repo,
		stager:      stager,
		locks:       locks,
		clients:     clients,
		creator:     creator,
		emitter:     emitter,
		tx:          tx,
		metrics:     publishMetrics,
		logg:        logg,
		lockTTL:     cfg.EntityLockTTL,
		sweepLimit:  cfg.SweepLimit,
		concurrency: cfg.SweepConcurrency,
		now:         time.Now,
	}, nil
}

// AttachmentInput describes one media file attached at creation time.
type AttachmentInput struct {
	FileName  string
	MimeType  string
	SizeBytes int64
	SourceURL string
	IsVideo   bool
}

// CreateInput holds the fields accepted when creating a publication.
type CreateInput struct {
	Title            string
	Description      string
	Hashtags         []string
	MediaType        enums.PublicationMediaType
	Platforms        []enums.Platform
	CoverURL         string
	PublishAt        *time.Time
	VideoDurationSec int
	Protected        bool
	Attachments      []AttachmentInput
}

// Create persists a draft publication. Drafts must be approved before they
// can publish.
func (s *service) Create(ctx context.Context, input CreateInput) (*Status, error) {
	if !input.MediaType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid media type")
	}
	if len(input.Platforms) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one target platform is required")
	}
	for _, platform := range input.Platforms {
		if !platform.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid platform %q", platform))
		}
	}
	if len(input.Attachments) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one attachment is required")
	}
	videos := 0
	for _, attachment := range input.Attachments {
		if attachment.SourceURL == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "every attachment needs a source url")
		}
		if attachment.IsVideo {
			videos++
		}
	}
	if input.MediaType.RequiresSingleVideo() && videos != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "story and reel publications require exactly one video attachment")
	}
	if input.MediaType == enums.PublicationMediaFeed && videos > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "feed publications accept images only")
	}

	publication := &models.Publication{
		Caption:     ComposeCaption(input.Description, input.Hashtags),
		MediaType:   input.MediaType,
		ReviewState: enums.ReviewStateDraft,
		Protected:   input.Protected,
		Platforms:   input.Platforms,
		GlobalPhase: enums.PhasePending,
	}
	if input.Title != "" {
		title := input.Title
		publication.Title = &title
	}
	if input.CoverURL != "" {
		cover := input.CoverURL
		publication.CoverURL = &cover
	}
	if input.PublishAt != nil {
		publishAt := *input.PublishAt
		publication.PublishAt = &publishAt
	}
	if input.VideoDurationSec > 0 {
		duration := input.VideoDurationSec
		publication.VideoDurationSec = &duration
	}
	for i, attachment := range input.Attachments {
		publication.Attachments = append(publication.Attachments, models.PublicationAttachment{
			Position:  i,
			FileName:  attachment.FileName,
			MimeType:  attachment.MimeType,
			SizeBytes: attachment.SizeBytes,
			SourceURL: attachment.SourceURL,
			IsVideo:   attachment.IsVideo,
		})
	}

	created, err := s.repo.Create(ctx, publication)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create publication")
	}
	return ToStatus(created), nil
}

// Approve moves a draft into the approved review state.
func (s *service) Approve(ctx context.Context, id uuid.UUID) (*Status, error) {
	return s.withLock(ctx, id, func(ctx context.Context, publication *models.Publication) (*Status, error) {
		if publication.ReviewState != enums.ReviewStateDraft {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only drafts can be approved")
		}
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.UpdateFieldsTx(tx, publication.ID, map[string]any{
				"review_state": enums.ReviewStateApproved,
			})
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist approval")
		}
		publication.ReviewState = enums.ReviewStateApproved
		return ToStatus(publication), nil
	})
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (*Status, error) {
	publication, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToStatus(publication), nil
}

// Publish stages media and starts or resumes every selected platform that
// has not finished yet. One failing platform never blocks the others.
func (s *service) Publish(ctx context.Context, id uuid.UUID) (*Status, error) {
	return s.withLock(ctx, id, s.publishLocked)
}

// Reconcile advances in-flight platforms by one lifecycle step.
func (s *service) Reconcile(ctx context.Context, id uuid.UUID) (*Status, error) {
	return s.withLock(ctx, id, func(ctx context.Context, publication *models.Publication) (*Status, error) {
		if err := s.reconcileLocked(ctx, publication); err != nil {
			return nil, err
		}
		return ToStatus(publication), nil
	})
}

// ReconcileAll sweeps every reconcilable publication. Scheduled publications
// whose time has come are promoted into a full publish.
func (s *service) ReconcileAll(ctx context.Context) error {
	rows, err := s.repo.ListReconcilable(ctx, s.now(), s.sweepLimit)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconcilable publications")
	}
	if len(rows) == 0 {
		return nil
	}

	var mu sync.Mutex
	var combined error
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, row := range rows {
		publication := row
		group.Go(func() error {
			var err error
			if publication.GlobalPhase == enums.PhaseScheduled {
				_, err = s.Publish(groupCtx, publication.ID)
			} else {
				_, err = s.Reconcile(groupCtx, publication.ID)
			}
			// Another worker holding the entity lock is not a sweep failure.
			if err != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
				mu.Lock()
				combined = multierr.Append(combined, fmt.Errorf("publication %s: %w", publication.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return combined
}

// Schedule defers the publish until the given time.
func (s *service) Schedule(ctx context.Context, id uuid.UUID, publishAt time.Time) (*Status, error) {
	return s.withLock(ctx, id, func(ctx context.Context, publication *models.Publication) (*Status, error) {
		if publication.ReviewState != enums.ReviewStateApproved {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "publication must be approved before scheduling")
		}
		if !publishAt.After(s.now()) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "publish time must be in the future")
		}
		if publication.GlobalPhase != enums.PhasePending && publication.GlobalPhase != enums.PhaseScheduled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "publication already started publishing")
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			fields := map[string]any{
				"publish_at":   publishAt,
				"global_phase": enums.PhaseScheduled,
			}
			if err := s.repo.UpdateFieldsTx(tx, publication.ID, fields); err != nil {
				return err
			}
			return s.emitter.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPublicationScheduled,
				AggregateType: enums.AggregatePublication,
				AggregateID:   publication.ID,
				Data: payloads.PublicationScheduledEvent{
					PublicationID: publication.ID,
					PublishAt:     publishAt,
				},
				Version: 1,
			})
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist schedule")
		}

		publication.PublishAt = &publishAt
		publication.GlobalPhase = enums.PhaseScheduled
		return ToStatus(publication), nil
	})
}

// Cancel reverts a scheduled publication back to pending.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*Status, error) {
	return s.withLock(ctx, id, func(ctx context.Context, publication *models.Publication) (*Status, error) {
		if publication.GlobalPhase != enums.PhaseScheduled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only scheduled publications can be cancelled")
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.UpdateFieldsTx(tx, publication.ID, map[string]any{
				"publish_at":   nil,
				"global_phase": enums.PhasePending,
			})
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancel")
		}

		publication.PublishAt = nil
		publication.GlobalPhase = enums.PhasePending
		return ToStatus(publication), nil
	})
}

// Delete removes a publication and its staged media. Protected publications
// and publications still in flight are refused.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.withLock(ctx, id, func(ctx context.Context, publication *models.Publication) (*Status, error) {
		if publication.Protected {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "publication is protected")
		}
		if publication.GlobalPhase == enums.PhaseProcessing || publication.GlobalPhase == enums.PhaseReviewing {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "publication is still publishing")
		}

		stagedURLs := make([]string, 0, len(publication.Attachments))
		for _, attachment := range publication.Attachments {
			if attachment.StagedURL != nil {
				stagedURLs = append(stagedURLs, *attachment.StagedURL)
			}
		}
		if err := s.stager.Discard(ctx, publication.ID, stagedURLs); err != nil {
			logCtx := s.logg.WithField(ctx, "publication_id", publication.ID)
			s.logg.Warn(logCtx, "staged media cleanup left orphans: "+err.Error())
		}

		if err := s.repo.Delete(ctx, publication.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete publication")
		}
		return ToStatus(publication), nil
	})
	return err
}

func (s *service) publishLocked(ctx context.Context, publication *models.Publication) (*Status, error) {
	if err := s.validatePublishable(ctx, publication); err != nil {
		return nil, err
	}

	content, err := s.ensureStaged(ctx, publication)
	if err != nil {
		return nil, err
	}

	attempted := 0
	succeeded := 0
	for _, platform := range publication.Platforms {
		client, ok := s.clients[platform]
		if !ok {
			continue
		}
		state := publication.StateFor(platform)
		if state.Phase != enums.PhasePending && state.Phase != enums.PhaseError {
			continue
		}
		attempted++
		if s.initiatePlatform(ctx, client, publication, state, *content) {
			succeeded++
		}
	}

	if err := s.persistStates(ctx, publication); err != nil {
		return nil, err
	}

	if attempted > 0 && succeeded == 0 {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "every selected platform failed to start").
			WithDetails(map[string]any{"publication_id": publication.ID})
	}

	// One immediate pass so synchronous platforms finish and asynchronous
	// ones enter review before the next sweep.
	if succeeded > 0 {
		if err := s.reconcileLocked(ctx, publication); err != nil {
			logCtx := s.logg.WithField(ctx, "publication_id", publication.ID)
			s.logg.Warn(logCtx, "post-publish reconcile failed: "+err.Error())
		}
	}

	return ToStatus(publication), nil
}

// initiatePlatform starts one platform and reports whether it is now in
// flight or published. Failures land on the platform state only.
func (s *service) initiatePlatform(ctx context.Context, client platforms.Client, publication *models.Publication, state *models.PlatformState, content platforms.Content) bool {
	platform := client.Platform().String()
	s.metrics.IncAttempt(platform)

	started := s.now()
	initiation, err := client.Initiate(ctx, content)
	s.metrics.ObserveCall(platform, "initiate", s.now().Sub(started))
	if err != nil {
		s.metrics.IncFailure(platform)
		s.setError(state, err)
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"publication_id": publication.ID,
			"platform":       platform,
		})
		s.logg.Error(logCtx, "platform initiate failed", err)
		return false
	}

	state.LastError = nil
	if initiation.Handle != "" {
		handle := initiation.Handle
		state.Handle = &handle
	}
	if initiation.Post != nil {
		s.metrics.IncSuccess(platform)
		s.setPublished(state, initiation.Post)
		return true
	}
	state.Phase = enums.PhaseProcessing
	return true
}

func (s *service) reconcileLocked(ctx context.Context, publication *models.Publication) error {
	for _, platform := range publication.Platforms {
		client, ok := s.clients[platform]
		if !ok {
			continue
		}
		state := publication.StateFor(platform)
		switch state.Phase {
		case enums.PhaseProcessing:
			// The handle exists, the platform is working. Enter review and
			// poll on the next pass.
			state.Phase = enums.PhaseReviewing
		case enums.PhaseReviewing:
			s.reviewPlatform(ctx, client, publication, state)
		}
	}
	return s.persistStates(ctx, publication)
}

func (s *service) reviewPlatform(ctx context.Context, client platforms.Client, publication *models.Publication, state *models.PlatformState) {
	if state.Handle == nil {
		s.setError(state, pkgerrors.New(pkgerrors.CodeInternal, "platform entered review without a handle"))
		return
	}
	platform := client.Platform().String()
	job := platforms.Job{Handle: *state.Handle, Content: s.contentFor(publication)}

	started := s.now()
	poll, err := client.PollStatus(ctx, job)
	s.metrics.ObserveCall(platform, "poll_status", s.now().Sub(started))
	if err != nil {
		s.reviewError(ctx, publication, state, platform, err)
		return
	}
	if !poll.Done {
		return
	}
	if poll.Post != nil {
		s.metrics.IncSuccess(platform)
		s.setPublished(state, poll.Post)
		return
	}

	started = s.now()
	post, err := client.Finalize(ctx, job)
	s.metrics.ObserveCall(platform, "finalize", s.now().Sub(started))
	if err != nil {
		s.reviewError(ctx, publication, state, platform, err)
		return
	}
	s.metrics.IncSuccess(platform)
	s.setPublished(state, post)
}

// reviewError keeps retryable failures in review and parks everything else
// in the error phase.
func (s *service) reviewError(ctx context.Context, publication *models.Publication, state *models.PlatformState, platform string, err error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"publication_id": publication.ID,
		"platform":       platform,
	})
	if pkgerrors.IsRetryable(err) {
		s.logg.Warn(logCtx, "platform still settling: "+err.Error())
		return
	}
	s.metrics.IncFailure(platform)
	s.setError(state, err)
	s.logg.Error(logCtx, "platform publish failed", err)
}

func (s *service) validatePublishable(ctx context.Context, publication *models.Publication) error {
	if publication.ReviewState != enums.ReviewStateApproved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "publication must be approved before publishing")
	}
	if len(publication.Platforms) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "publication has no target platforms")
	}
	if !publication.MediaType.IsValid() || publication.MediaType == enums.PublicationMediaOther {
		return pkgerrors.New(pkgerrors.CodeValidation, "publication media type is not publishable")
	}
	if publication.PublishAt == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "publish time must be set before publishing")
	}
	if publication.PublishAt.After(s.now()) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "publication is scheduled for a future time")
	}
	if publication.MediaType == enums.PublicationMediaReel && (publication.CoverURL == nil || *publication.CoverURL == "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "reel publications require a cover image")
	}
	for _, platform := range publication.Platforms {
		if _, ok := s.clients[platform]; !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no credentials configured for %s", platform)).
				WithDetails(map[string]any{"platform": platform})
		}
	}

	videos := 0
	for _, attachment := range publication.Attachments {
		if attachment.IsVideo {
			videos++
		}
	}
	if publication.MediaType.RequiresSingleVideo() && videos != 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "story and reel publications require exactly one video attachment")
	}
	if publication.MediaType == enums.PublicationMediaFeed && videos > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "feed publications accept images only")
	}

	if publication.Platforms.Contains(enums.PlatformTikTok) && s.creator != nil {
		info, err := s.creator.CreatorInfo(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query tiktok creator info")
		}
		if !info.CanPublish {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "tiktok account cannot publish right now")
		}
		if publication.VideoDurationSec != nil && info.MaxVideoPostDurationSec > 0 &&
			*publication.VideoDurationSec > info.MaxVideoPostDurationSec {
			return pkgerrors.New(pkgerrors.CodeValidation, "video exceeds the tiktok duration limit").
				WithDetails(map[string]any{
					"video_duration_sec": *publication.VideoDurationSec,
					"max_duration_sec":   info.MaxVideoPostDurationSec,
				})
		}
	}
	return nil
}

// ensureStaged stages any attachment that has no public copy yet, then builds
// the platform content from the staged URLs.
func (s *service) ensureStaged(ctx context.Context, publication *models.Publication) (*platforms.Content, error) {
	pending := make([]models.PublicationAttachment, 0, len(publication.Attachments))
	for _, attachment := range publication.Attachments {
		if attachment.StagedURL == nil || *attachment.StagedURL == "" {
			pending = append(pending, attachment)
		}
	}

	if len(pending) > 0 {
		staged, err := s.stager.Stage(ctx, publication.ID, pending)
		if err != nil {
			return nil, err
		}
		byAttachment := make(map[uuid.UUID]string, len(staged))
		for _, object := range staged {
			byAttachment[object.AttachmentID] = object.URL
		}
		for i := range publication.Attachments {
			url, ok := byAttachment[publication.Attachments[i].ID]
			if !ok {
				continue
			}
			if err := s.repo.SetAttachmentStaged(ctx, publication.Attachments[i].ID, url); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist staged url")
			}
			publication.Attachments[i].StagedURL = &url
		}
	}

	content := s.contentFor(publication)
	if len(content.MediaURLs) == 0 && content.VideoURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publication has no staged media")
	}
	return &content, nil
}

func (s *service) contentFor(publication *models.Publication) platforms.Content {
	content := platforms.Content{
		PublicationID: publication.ID,
		MediaType:     publication.MediaType,
		Caption:       publication.Caption,
	}
	if publication.Title != nil {
		content.Title = *publication.Title
	}
	if publication.CoverURL != nil {
		content.CoverURL = *publication.CoverURL
	}
	if publication.VideoDurationSec != nil {
		content.VideoDurationSec = *publication.VideoDurationSec
	}
	for _, attachment := range publication.Attachments {
		if attachment.StagedURL == nil || *attachment.StagedURL == "" {
			continue
		}
		if attachment.IsVideo {
			content.VideoURL = *attachment.StagedURL
			continue
		}
		content.MediaURLs = append(content.MediaURLs, *attachment.StagedURL)
	}
	return content
}

// persistStates writes every selected platform state, recomputes the global
// phase, and emits lifecycle events in the same transaction.
func (s *service) persistStates(ctx context.Context, publication *models.Publication) error {
	phases := make([]enums.Phase, 0, len(publication.Platforms))
	for _, platform := range publication.Platforms {
		phases = append(phases, publication.StateFor(platform).Phase)
	}
	scheduled := publication.PublishAt != nil && publication.PublishAt.After(s.now())
	publication.GlobalPhase = AggregatePhase(phases, scheduled)

	fields := map[string]any{"global_phase": publication.GlobalPhase}
	for _, platform := range publication.Platforms {
		state := publication.StateFor(platform)
		prefix := platform.String() + "_"
		fields[prefix+"phase"] = state.Phase
		fields[prefix+"handle"] = state.Handle
		fields[prefix+"post_id"] = state.PostID
		fields[prefix+"post_url"] = state.PostURL
		fields[prefix+"last_error"] = state.LastError
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpdateFieldsTx(tx, publication.ID, fields); err != nil {
			return err
		}
		return s.emitLifecycleEvents(ctx, tx, publication)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist publication state")
	}
	return nil
}

func (s *service) emitLifecycleEvents(ctx context.Context, tx *gorm.DB, publication *models.Publication) error {
	switch publication.GlobalPhase {
	case enums.PhasePublished:
		return s.emitter.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPublicationPublished,
			AggregateType: enums.AggregatePublication,
			AggregateID:   publication.ID,
			Data: payloads.PublicationPublishedEvent{
				PublicationID: publication.ID,
				MediaType:     publication.MediaType.String(),
				PublishedAt:   s.now(),
				Platforms:     s.outcomes(publication),
			},
			Version: 1,
		})
	case enums.PhaseError:
		return s.emitter.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPublicationFailed,
			AggregateType: enums.AggregatePublication,
			AggregateID:   publication.ID,
			Data: payloads.PublicationFailedEvent{
				PublicationID: publication.ID,
				MediaType:     publication.MediaType.String(),
				FailedAt:      s.now(),
				Platforms:     s.outcomes(publication),
			},
			Version: 1,
		})
	}
	return nil
}

func (s *service) outcomes(publication *models.Publication) []payloads.PlatformOutcome {
	out := make([]payloads.PlatformOutcome, 0, len(publication.Platforms))
	for _, platform := range publication.Platforms {
		state := publication.StateFor(platform)
		outcome := payloads.PlatformOutcome{Platform: platform, Phase: state.Phase}
		if state.PostID != nil {
			outcome.PostID = *state.PostID
		}
		if state.PostURL != nil {
			outcome.PostURL = *state.PostURL
		}
		if state.LastError != nil {
			outcome.Error = *state.LastError
		}
		out = append(out, outcome)
	}
	return out
}

func (s *service) setPublished(state *models.PlatformState, post *platforms.PostRef) {
	state.Phase = enums.PhasePublished
	state.LastError = nil
	if post == nil {
		return
	}
	if post.ID != "" {
		id := post.ID
		state.PostID = &id
	}
	if post.URL != "" {
		url := post.URL
		state.PostURL = &url
	}
}

func (s *service) setError(state *models.PlatformState, err error) {
	state.Phase = enums.PhaseError
	message := err.Error()
	state.LastError = &message
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Publication, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publication id is required")
	}
	publication, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "publication not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup publication")
	}
	return publication, nil
}

// withLock serializes all mutating work on one publication behind the Redis
// entity lock.
func (s *service) withLock(ctx context.Context, id uuid.UUID, fn func(context.Context, *models.Publication) (*Status, error)) (*Status, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publication id is required")
	}
	key := s.locks.PublicationLockKey(id.String())
	acquired, err := s.locks.SetNX(ctx, key, "1", s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire publication lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "publication is already being processed")
	}
	defer func() {
		if err := s.locks.Del(context.WithoutCancel(ctx), key); err != nil {
			logCtx := s.logg.WithField(ctx, "lock_key", key)
			s.logg.Warn(logCtx, "releasing publication lock failed")
		}
	}()

	publication, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return fn(ctx, publication)
}
