package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/inkforge/inkforge/internal/auth"
	"github.com/inkforge/inkforge/internal/engine"
	"github.com/inkforge/inkforge/internal/middleware"
	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/service"
)

// Inbound multipart fields.
const (
	fieldPrompt         = "prompt"
	fieldStylePreset    = "style_preset"
	fieldReferenceImage = "reference_image"
)

// Response headers set on a delivered generation.
const (
	HeaderTransactionID    = "X-Transaction-ID"
	HeaderCreditsRemaining = "X-Credits-Remaining"
	HeaderWarning          = "X-Inkforge-Warning"

	warningArtifactNotSaved = "artifact-not-saved"
)

// defaultMultipartMemory is kept in memory before parts spill to disk.
const defaultMultipartMemory = 8 << 20

var errInvalidForm = errors.New("invalid form data")

// Generator runs one credit-gated generation.
type Generator interface {
	Generate(ctx context.Context, principal *model.Principal, input service.GenerateInput) (*service.GenerationResult, error)
}

// GenerateHandler handles POST /api/generate.
type GenerateHandler struct {
	svc       Generator
	logger    *slog.Logger
	maxMemory int64
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(svc Generator, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{
		svc:       svc,
		logger:    logger.With("component", "generate_handler"),
		maxMemory: defaultMultipartMemory,
	}
}

// Generate handles POST /api/generate.
// On success the body is the engine's SVG; errors are JSON.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if !principal.IsValid() {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	input, err := h.parseForm(r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	result, err := h.svc.Generate(r.Context(), principal, input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	middleware.AnnotateTransaction(r.Context(), result.TransactionID)
	w.Header().Set("Content-Type", model.SVGMediaType)
	w.Header().Set(HeaderTransactionID, result.TransactionID)
	w.Header().Set(HeaderCreditsRemaining, strconv.Itoa(result.Balance))
	if result.PersistFailed {
		w.Header().Set(HeaderWarning, warningArtifactNotSaved)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Payload); err != nil {
		h.logger.Warn("client went away before the artifact was sent",
			"transaction_id", result.TransactionID,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
}

// parseForm reads the inbound fields. A body that is not a form yields
// empty fields, so a missing prompt is reported as such.
func (h *GenerateHandler) parseForm(r *http.Request) (service.GenerateInput, error) {
	var input service.GenerateInput

	err := r.ParseMultipartForm(h.maxMemory)
	switch {
	case err == nil:
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			return input, wrapFormError(err)
		}
	default:
		return input, wrapFormError(err)
	}

	input.Prompt = r.PostFormValue(fieldPrompt)
	input.Style = r.PostFormValue(fieldStylePreset)

	if r.MultipartForm != nil {
		ref, err := readReference(r.MultipartForm)
		if err != nil {
			return input, wrapFormError(err)
		}
		input.Reference = ref
	}

	return input, nil
}

// readReference returns the uploaded reference image, or nil when the
// field is absent or an empty file part.
func readReference(form *multipart.Form) (*model.ReferenceImage, error) {
	files := form.File[fieldReferenceImage]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]
	if header.Size == 0 && header.Filename == "" {
		return nil, nil
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open reference image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &model.ReferenceImage{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

func wrapFormError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return fmt.Errorf("%w: %v", errInvalidForm, err)
}

// handleServiceError maps orchestrator errors to HTTP responses.
func (h *GenerateHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *engine.UpstreamError

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, service.ErrPromptRequired):
		writeError(w, http.StatusBadRequest, "Prompt is required")
	case errors.Is(err, service.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "Insufficient Credits")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.As(err, &upstreamErr):
		writeError(w, http.StatusInternalServerError, upstreamErr.Message())
	default:
		h.logger.Error("internal_error",
			"error", err,
			"user_id", auth.UserIDFromContext(r.Context()),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}
