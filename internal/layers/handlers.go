package layers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nabachouhan/gatishakti3.0/internal/ingest"
	"github.com/nabachouhan/gatishakti3.0/internal/utils"
)

// Uploads larger than this stay on disk while the form is parsed.
const multipartMemory = 32 << 20

// Ingester is what the HTTP layer needs from the pipeline.
type Ingester interface {
	Run(ctx context.Context, req ingest.Request, upload *ingest.Upload) (ingest.Result, error)
	UpdateInfo(ctx context.Context, department, layer string, title, description *string) error
}

type Handler struct {
	ingester  Ingester
	maxUpload int64
	log       *slog.Logger
}

func NewHandler(ingester Ingester, maxUploadBytes int64, log *slog.Logger) *Handler {
	return &Handler{ingester: ingester, maxUpload: maxUploadBytes, log: log}
}

type uploadResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func (h *Handler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, ingest.ModeCreate)
}

func (h *Handler) ReplaceHandler(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, ingest.ModeReplace)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request, mode ingest.Mode) {
	reqID := chimw.GetReqID(r.Context())
	log := h.log.With("request_id", reqID)
	if sub, ok := utils.GetSubjectFromContext(r.Context()); ok {
		log = log.With("subject", sub)
	}

	// Room for the form fields around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.WriteMessage(w, http.StatusBadRequest, "Upload is too large")
			return
		}
		utils.WriteMessage(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("multipart cleanup failed", "error", err)
		}
	}()

	srid, err := strconv.Atoi(strings.TrimSpace(r.FormValue("srid")))
	if err != nil {
		utils.WriteMessage(w, http.StatusBadRequest, "srid must be an integer EPSG code")
		return
	}

	req := ingest.Request{
		Department:  chi.URLParam(r, "department"),
		Layer:       chi.URLParam(r, "layer"),
		SRID:        srid,
		Mode:        mode,
		Title:       optionalField(r, "title"),
		Description: optionalField(r, "description"),
	}

	var upload *ingest.Upload
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		upload = &ingest.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	case !errors.Is(err, http.ErrMissingFile):
		log.Warn("read upload", "error", err)
	}

	res, err := h.ingester.Run(ingest.WithRequestID(r.Context(), reqID), req, upload)
	status := ingest.StatusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error("upload failed", "job_id", res.JobID, "error", err)
	} else {
		log.Info("upload handled", "job_id", res.JobID, "status", status)
	}
	writeJSON(w, status, uploadResponse{Message: ingest.MessageForError(err), JobID: res.JobID})
}

type infoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (h *Handler) UpdateInfoHandler(w http.ResponseWriter, r *http.Request) {
	var in infoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		utils.WriteMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.ingester.UpdateInfo(r.Context(), chi.URLParam(r, "department"), chi.URLParam(r, "layer"), in.Title, in.Description)
	if err != nil {
		status := ingest.StatusForError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("update layer info", "request_id", chimw.GetReqID(r.Context()), "error", err)
		}
		utils.WriteMessage(w, status, ingest.MessageForError(err))
		return
	}
	utils.WriteMessage(w, http.StatusOK, "Layer info updated")
}

// optionalField distinguishes an absent form field from an empty one.
func optionalField(r *http.Request, name string) *string {
	vs, ok := r.MultipartForm.Value[name]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
