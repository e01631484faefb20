package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/silluthedon/delta/internal/logging"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
	"github.com/silluthedon/delta/internal/session"
	"github.com/silluthedon/delta/internal/storage"
)

const (
	defaultMaxUpload = 1 << 30
	multipartMemory  = 32 << 20
)

// AdminHandler implements catalog management and subscription activation.
type AdminHandler struct {
	Videos     VideoStore
	Profiles   ProfileStore
	Assets     AssetStorage
	Cache      CacheInvalidator
	Refresher  CatalogRefresher
	Workspaces Workspaces
	MaxUpload  int64
	NowFunc    func() time.Time
}

type uploadForm struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=5000"`
	Genre           string `json:"genre" validate:"max=64"`
	Year            *int   `json:"year" validate:"omitempty,min=1888,max=2100"`
	DurationSeconds *int   `json:"durationSeconds" validate:"omitempty,min=0"`
}

type subscriptionResult struct {
	ID                  string                    `json:"id"`
	SubscriptionStatus  models.SubscriptionStatus `json:"subscriptionStatus"`
	ExpiresAt           *time.Time                `json:"subscriptionExpiresAt,omitempty"`
	RefreshedWorkspaces int                       `json:"refreshedWorkspaces"`
}

// UploadVideo handles POST /api/v1/admin/videos as multipart form data with a
// required "video" file and an optional "thumbnail" file.
func (h AdminHandler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Assets == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "storage_unavailable", "asset storage is not configured")
		return
	}

	maxUpload := h.MaxUpload
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		logger.Warn("invalid upload payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid_body", "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	form, errResp := parseUploadForm(r)
	if errResp != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errResp)
		return
	}

	videoFile, videoHeader, err := r.FormFile("video")
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error: "validation failed", Code: "validation_failed",
			Details: map[string]string{"video": "is required"},
		})
		return
	}
	defer videoFile.Close()

	var thumb *upload
	if f, header, err := r.FormFile("thumbnail"); err == nil {
		defer f.Close()
		thumb = &upload{file: f, filename: header.Filename}
	}

	video, err := h.store(ctx, form, upload{file: videoFile, filename: videoHeader.Filename}, thumb, sessionPrincipal(ctx))
	if err != nil {
		respondError(ctx, w, http.StatusBadGateway, "upload_failed", "unable to store video")
		return
	}

	h.catalogChanged(ctx)
	respondJSON(ctx, w, http.StatusCreated, video)
}

type upload struct {
	file     multipart.File
	filename string
}

func (h AdminHandler) store(ctx context.Context, form uploadForm, video upload, thumb *upload, ownerID string) (record models.Video, err error) {
	ctx, span := logging.StartSpan(ctx, "admin.upload_video")
	defer func() { span.End(err) }()

	now := h.now()
	fileRef, err := h.Assets.Save(ctx, storage.ObjectKey("videos", video.filename, now), video.file)
	if err != nil {
		return models.Video{}, fmt.Errorf("save video file: %w", err)
	}

	var thumbRef string
	if thumb != nil {
		if thumbRef, err = h.Assets.Save(ctx, storage.ObjectKey("thumbnails", thumb.filename, now), thumb.file); err != nil {
			return models.Video{}, fmt.Errorf("save thumbnail: %w", err)
		}
	}

	record = models.Video{
		ID:              uuid.NewString(),
		Title:           form.Title,
		Description:     form.Description,
		FileRef:         fileRef,
		ThumbnailRef:    thumbRef,
		DurationSeconds: form.DurationSeconds,
		Genre:           form.Genre,
		Year:            form.Year,
		CreatedAt:       now,
		OwnerID:         ownerID,
	}
	if err := h.Videos.Create(ctx, record); err != nil {
		return models.Video{}, fmt.Errorf("create video record: %w", err)
	}
	return record, nil
}

// DeleteVideo handles DELETE /api/v1/admin/videos/{id}.
func (h AdminHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	if err := h.Videos.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "not_found", "video not found")
			return
		}
		logging.FromContext(ctx).Error("delete video failed", "video_id", id, "error", err)
		respondError(ctx, w, http.StatusServiceUnavailable, "catalog_unavailable", "unable to delete video")
		return
	}

	h.catalogChanged(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// SetSubscription handles PUT /api/v1/admin/profiles/{id}/subscription and
// re-resolves every live workspace signed in as that principal.
func (h AdminHandler) SetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var req subscriptionRequest
	if errResp := decodeJSON(w, r, &req); errResp != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errResp)
		return
	}

	update := session.SubscriptionUpdate(req.Status, h.now())
	if err := h.Profiles.UpdateProfile(ctx, id, update); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		logging.FromContext(ctx).Error("update subscription failed", "profile_id", id, "error", err)
		respondError(ctx, w, http.StatusServiceUnavailable, "profile_unavailable", "unable to update profile")
		return
	}

	refreshed := h.Workspaces.RefreshPrincipal(ctx, id)
	logging.FromContext(ctx).Info("subscription updated", "profile_id", id, "status", req.Status, "workspaces", refreshed)
	respondJSON(ctx, w, http.StatusOK, subscriptionResult{
		ID:                  id,
		SubscriptionStatus:  update.SubscriptionStatus,
		ExpiresAt:           update.SubscriptionExpiresAt,
		RefreshedWorkspaces: refreshed,
	})
}

// catalogChanged drops the cached listing and reloads the snapshot. Failures
// are logged; the periodic refresh will catch up.
func (h AdminHandler) catalogChanged(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx); err != nil {
			logger.Warn("catalog cache invalidation failed", "error", err)
		}
	}
	if h.Refresher != nil {
		if err := h.Refresher.Refresh(ctx); err != nil {
			logger.Warn("catalog refresh after admin change failed", "error", err)
		}
	}
}

func (h AdminHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func parseUploadForm(r *http.Request) (uploadForm, *errorResponse) {
	form := uploadForm{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: strings.TrimSpace(r.FormValue("description")),
		Genre:       strings.TrimSpace(r.FormValue("genre")),
	}

	details := map[string]string{}
	for field, dest := range map[string]**int{"year": &form.Year, "durationSeconds": &form.DurationSeconds} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			details[field] = "must be a whole number"
			continue
		}
		*dest = &n
	}
	if len(details) > 0 {
		return uploadForm{}, &errorResponse{Error: "validation failed", Code: "validation_failed", Details: details}
	}

	if errResp := validateStruct(&form); errResp != nil {
		return uploadForm{}, errResp
	}
	return form, nil
}

func sessionPrincipal(ctx context.Context) string {
	snap, ok := sessionFrom(ctx)
	if !ok || snap.Principal == nil {
		return ""
	}
	return snap.Principal.ID
}
