package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"restyle/internal/domain"
	"restyle/internal/middleware"
	"restyle/internal/progress"
)

const multipartMemoryLimit = 12 << 20

// handleSubmitJob accepts a multipart submission: the source image plus the
// instruction and generation parameters.
func (a *App) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		a.fail(w, r, fmt.Errorf("%w: malformed multipart body", domain.ErrInvalidRequest))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: image field is required", domain.ErrInvalidRequest))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxSourceImageSize+1))
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: unreadable image", domain.ErrInvalidRequest))
		return
	}

	count := 1
	if raw := r.FormValue("generation_count"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: generation_count must be a number", domain.ErrInvalidRequest))
			return
		}
	}

	req := SubmitRequest{
		ImageData:   data,
		ImageName:   header.Filename,
		Instruction: r.FormValue("instruction"),
		UnitCount:   count,
		TierName:    r.FormValue("tier"),
		AspectRatio: r.FormValue("aspect_ratio"),
	}
	result, err := a.svc.Submit(r.Context(), userID, middleware.LocaleFromContext(r.Context()), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, result)
}

// handleListJobs serves the paginated job history.
func (a *App) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	pageSize := parsePositiveInt(r.URL.Query().Get("page_size"), defaultPageSize)

	result, err := a.svc.List(r.Context(), userID, page, pageSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// handleJobStatus serves the authoritative snapshot.
func (a *App) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	snap, err := a.svc.Snapshot(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

type cancelResponse struct {
	JobID   string               `json:"job_id"`
	Outcome domain.CancelOutcome `json:"outcome"`
}

func (a *App) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "id")
	outcome, err := a.svc.Cancel(r.Context(), userID, jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, cancelResponse{JobID: jobID, Outcome: outcome})
}

// handleJobEvents streams progress over SSE. The subscription is opened
// before the snapshot read, so no event can fall between them; the snapshot
// itself is sent as the first frame and the stream closes after the terminal
// event.
func (a *App) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "id")

	events, unsubscribe := a.hub.Subscribe(jobID)
	defer unsubscribe()

	job, err := a.svc.visibleJob(r.Context(), userID, jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	sse, err := progress.NewSSEWriter(w)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var images []domain.ArtifactRef
	if job.Status == domain.JobStatusCompleted {
		if images, err = a.svc.artifacts(r.Context(), job); err != nil {
			a.logger.Warn().Err(err).Str("job_id", jobID).Msg("gateway: artifact listing failed")
		}
	}
	first := snapshotEvent(job, images)
	if err := sse.Send(first); err != nil {
		return
	}
	if first.Type.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := sse.Send(ev); err != nil {
				return
			}
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

func parseBatchIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// handleBatchStatus aggregates a comma-separated id list.
func (a *App) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	ids := parseBatchIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		a.fail(w, r, fmt.Errorf("%w: ids query parameter is required", domain.ErrInvalidRequest))
		return
	}
	agg, err := a.coord.Status(r.Context(), userID, ids)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, agg)
}

type batchCancelRequest struct {
	JobIDs []string `json:"job_ids"`
}

type batchCancelResponse struct {
	Outcomes map[string]domain.CancelOutcome `json:"outcomes"`
}

func (a *App) handleBatchCancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	var req batchCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.JobIDs) == 0 {
		a.fail(w, r, fmt.Errorf("%w: job_ids is required", domain.ErrInvalidRequest))
		return
	}
	outcomes := a.coord.CancelAll(r.Context(), userID, req.JobIDs, a.svc.Cancel)
	a.json(w, http.StatusOK, batchCancelResponse{Outcomes: outcomes})
}

// handleJobArchive downloads every generated variant of a completed job as
// one zip file.
func (a *App) handleJobArchive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	archive, name, err := a.svc.Archive(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	summary, err := a.svc.Usage(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
