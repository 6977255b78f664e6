package engine

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/inkforge/inkforge/internal/model"
)

// Multipart field names understood by the engine.
const (
	FieldPrompt         = "prompt"
	FieldStylePreset    = "style_preset"
	FieldUserID         = "user_id"
	FieldReferenceImage = "reference_image"
)

const defaultReferenceFilename = "reference"

// OutboundRequest is the typed body sent to {base}/generate.
type OutboundRequest struct {
	Prompt      string
	StylePreset string
	UserID      string
	Reference   *model.ReferenceImage
}

// NewOutboundRequest maps a generation request to its wire form.
func NewOutboundRequest(req model.GenerationRequest) OutboundRequest {
	return OutboundRequest{
		Prompt:      strings.TrimSpace(req.Prompt),
		StylePreset: model.NormalizeStyle(req.Style),
		UserID:      req.UserID,
		Reference:   req.Reference,
	}
}

// Validate checks the request before it is transmitted.
func (r OutboundRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if r.Reference != nil && len(r.Reference.Data) == 0 {
		return fmt.Errorf("%w: reference image is empty", ErrInvalidRequest)
	}
	return nil
}

// Encode writes the request as multipart/form-data and returns the body
// together with its Content-Type header value.
func (r OutboundRequest) Encode() (*bytes.Buffer, string, error) {
	if err := r.Validate(); err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fields := []struct{ name, value string }{
		{FieldPrompt, r.Prompt},
		{FieldStylePreset, r.StylePreset},
		{FieldUserID, r.UserID},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if r.Reference != nil {
		part, err := w.CreatePart(referenceHeader(r.Reference))
		if err != nil {
			return nil, "", fmt.Errorf("create reference part: %w", err)
		}
		if _, err := part.Write(r.Reference.Data); err != nil {
			return nil, "", fmt.Errorf("write reference part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return body, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func referenceHeader(ref *model.ReferenceImage) textproto.MIMEHeader {
	filename := ref.Filename
	if filename == "" {
		filename = defaultReferenceFilename
	}
	mediaType := ref.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FieldReferenceImage, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", mediaType)
	return h
}
