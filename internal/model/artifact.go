package model

import (
	"encoding/base64"
	"strings"
	"time"
)

// DefaultStyle is applied when a generation request carries no style preset.
const DefaultStyle = "flat"

// SVGMediaType is the media type of generated artifacts.
const SVGMediaType = "image/svg+xml"

// Artifact is the persisted record of one successful generation.
// Artifacts are immutable once written.
type Artifact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style"`
	Content   string    `json:"svgUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeStyle returns style trimmed, or DefaultStyle when empty.
func NormalizeStyle(style string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return DefaultStyle
	}
	return style
}

// EncodeDataURL builds an inline data URL for payload.
func EncodeDataURL(mediaType string, payload []byte) string {
	if mediaType == "" {
		mediaType = SVGMediaType
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
