package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/geniolibre/publisher-backend/api/responses"
	"github.com/geniolibre/publisher-backend/api/validators"
	"github.com/geniolibre/publisher-backend/internal/publications"
	"github.com/geniolibre/publisher-backend/pkg/enums"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 5000
)

type createAttachmentRequest struct {
	FileName  string `json:"file_name" validate:"required,max=512"`
	MimeType  string `json:"mime_type" validate:"required,max=128"`
	SizeBytes int64  `json:"size_bytes" validate:"min=0"`
	SourceURL string `json:"source_url" validate:"required,url"`
	IsVideo   bool   `json:"is_video"`
}

type createPublicationRequest struct {
	Title            string                    `json:"title" validate:"max=255"`
	Description      string                    `json:"description" validate:"max=5000"`
	Hashtags         []string                  `json:"hashtags" validate:"max=30,dive,max=100"`
	MediaType        string                    `json:"media_type" validate:"required"`
	Platforms        []string                  `json:"platforms" validate:"required,min=1"`
	CoverURL         string                    `json:"cover_url" validate:"omitempty,url"`
	PublishAt        *time.Time                `json:"publish_at"`
	VideoDurationSec int                       `json:"video_duration_sec" validate:"min=0"`
	Protected        bool                      `json:"protected"`
	Attachments      []createAttachmentRequest `json:"attachments" validate:"required,min=1,dive"`
}

type schedulePublicationRequest struct {
	PublishAt time.Time `json:"publish_at" validate:"required"`
}

func PublicationCreate(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPublicationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		mediaType, err := enums.ParsePublicationMediaType(req.MediaType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid media type"))
			return
		}
		targets := make([]enums.Platform, 0, len(req.Platforms))
		for _, raw := range req.Platforms {
			platform, err := enums.ParsePlatform(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid platform"))
				return
			}
			targets = append(targets, platform)
		}

		input := publications.CreateInput{
			Title:            validators.SanitizeString(req.Title, maxTitleLen),
			Description:      validators.SanitizeString(req.Description, maxDescriptionLen),
			Hashtags:         req.Hashtags,
			MediaType:        mediaType,
			Platforms:        targets,
			CoverURL:         req.CoverURL,
			PublishAt:        req.PublishAt,
			VideoDurationSec: req.VideoDurationSec,
			Protected:        req.Protected,
		}
		for _, attachment := range req.Attachments {
			input.Attachments = append(input.Attachments, publications.AttachmentInput{
				FileName:  attachment.FileName,
				MimeType:  attachment.MimeType,
				SizeBytes: attachment.SizeBytes,
				SourceURL: attachment.SourceURL,
				IsVideo:   attachment.IsVideo,
			})
		}

		status, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, status)
	}
}

func PublicationApprove(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return publicationAction(logg, svc.Approve)
}

func PublicationPublish(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return publicationAction(logg, svc.Publish)
}

func PublicationReconcile(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return publicationAction(logg, svc.Reconcile)
}

func PublicationCancel(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return publicationAction(logg, svc.Cancel)
}

func PublicationSchedule(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := publicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req schedulePublicationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.Schedule(r.Context(), id, req.PublishAt)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func PublicationStatus(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := publicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func PublicationDelete(svc publications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := publicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func publicationAction(
	logg *logger.Logger,
	action func(ctx context.Context, id uuid.UUID) (*publications.Status, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := publicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := action(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func publicationID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "publicationId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid publication id")
	}
	return id, nil
}
