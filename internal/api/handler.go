// Package api implements the public HTTP endpoints of the listing assistant:
// product image analysis and the supported-language query.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/praciller/listing-assistant/internal/analysis"
	"github.com/praciller/listing-assistant/internal/apierror"
)

// DefaultLanguage is used when the upload omits the language form field.
const DefaultLanguage = "en"

// Handler serves the /v1 API surface.
type Handler struct {
	svc    *analysis.Service
	logger *slog.Logger
}

// New creates the API handler.
func New(svc *analysis.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes adds the API routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/listings", h.createListing)
	mux.HandleFunc("/v1/languages", h.languages)
}

// listingResponse is the success body. The shape matches what the frontend
// consumes: a success flag and the generated listing under data.
type listingResponse struct {
	Success bool        `json:"success"`
	Data    listingData `json:"data"`
}

type listingData struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Filename    string   `json:"filename,omitempty"`
	Language    string   `json:"language"`
}

func (h *Handler) createListing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "use POST")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge, "request body exceeds maximum allowed size")
			return
		}
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, `multipart field "image" is required`)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge, "request body exceeds maximum allowed size")
			return
		}
		h.logger.Error("reading upload", "error", err, "filename", header.Filename)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "failed to read uploaded image")
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = DefaultLanguage
	}

	listing, err := h.svc.Analyze(r.Context(), image, language)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listingResponse{
		Success: true,
		Data: listingData{
			Title:       listing.Title,
			Description: listing.Description,
			Tags:        listing.Tags,
			Filename:    header.Filename,
			Language:    language,
		},
	})
}

// writeAnalysisError maps the failure taxonomy onto HTTP statuses:
// validation → 400, circuit open → 503 with Retry-After, provider rate/quota
// → 429, local concurrency cap → 429, everything else → 500.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	var aerr *analysis.Error
	if !errors.As(err, &aerr) {
		h.logger.Error("unclassified analysis error", "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
		return
	}

	switch aerr.Kind {
	case analysis.KindValidation:
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, aerr.Message)
	case analysis.KindCircuitOpen:
		if secs := int(aerr.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.CircuitOpen, aerr.Message)
	case analysis.KindBusy:
		apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded, aerr.Message)
	case analysis.KindTransient:
		if aerr.RateLimited {
			apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.ProviderRateLimited, aerr.Message)
			return
		}
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.AnalysisFailed, aerr.Message)
	default:
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.AnalysisFailed, aerr.Message)
	}
}

// languagesResponse lists the allowed language codes for caller-side
// pre-validation of the language form field.
type languagesResponse struct {
	Success   bool              `json:"success"`
	Languages map[string]string `json:"languages"`
	Default   string            `json:"default"`
}

func (h *Handler) languages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "use GET")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(languagesResponse{
		Success:   true,
		Languages: h.svc.Languages(),
		Default:   DefaultLanguage,
	})
}

// isBodyTooLarge detects the error produced by http.MaxBytesReader, which
// the body-limit middleware installs upstream of this handler.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	// multipart wraps the reader error into a plain error string.
	return err != nil && err.Error() == "http: request body too large"
}
