package domain

import (
	"io"
	"time"
)

const (
	MaxUploadSize       = 10 * 1024 * 1024 // 10MB
	MaxDimension        = 2048
	MaxPixels           = 100_000_000
	JPEGQuality         = 85
	OutputContentType   = "image/jpeg"
	AnnotationMaxLength = 1900
	AnnotationSoftLimit = 1800
	ClientInfoKey       = "client-info"
)

type State string

const (
	StateEmpty     State = "empty"
	StateLoaded    State = "loaded"
	StateUploading State = "uploading"
	StateUploaded  State = "uploaded"
)

// Rotation is a clockwise angle in degrees, always one of 0, 90, 180, 270.
type Rotation int

func (r Rotation) Next() Rotation {
	return (r + 90) % 360
}

// Swapped reports whether the canvas is portrait relative to the source.
func (r Rotation) Swapped() bool {
	return r == 90 || r == 270
}

// ImageFile is the blob handed over by the presentation layer.
type ImageFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type SourceImage struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type StagedImage struct {
	Rotation     Rotation `json:"rotation"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	CanvasWidth  int      `json:"canvas_width"`
	CanvasHeight int      `json:"canvas_height"`
}

type AnnotationInfo struct {
	Text          string `json:"text"`
	Length        int    `json:"length"`
	OverSoftLimit bool   `json:"over_soft_limit"`
	OverLimit     bool   `json:"over_limit"`
}

func NewAnnotationInfo(text string) AnnotationInfo {
	return AnnotationInfo{
		Text:          text,
		Length:        len(text),
		OverSoftLimit: len(text) > AnnotationSoftLimit,
		OverLimit:     len(text) > AnnotationMaxLength,
	}
}

// UploadPayload is built once per submit and never mutated afterwards.
type UploadPayload struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

func NewUploadPayload(key string, body []byte, clientInfo string) *UploadPayload {
	p := &UploadPayload{
		Key:         key,
		Body:        body,
		ContentType: OutputContentType,
	}
	if clientInfo != "" {
		p.Metadata = map[string]string{ClientInfoKey: clientInfo}
	}
	return p
}

type UploadResult struct {
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

type UploadEvent struct {
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ClientInfo string    `json:"client_info,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type StatusLevel string

const (
	StatusNone    StatusLevel = ""
	StatusInfo    StatusLevel = "info"
	StatusSuccess StatusLevel = "success"
	StatusError   StatusLevel = "error"
)

type Status struct {
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
}

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	State      State          `json:"state"`
	Loading    bool           `json:"loading"`
	Status     Status         `json:"status"`
	Source     *SourceImage   `json:"source,omitempty"`
	Staged     *StagedImage   `json:"staged,omitempty"`
	Annotation AnnotationInfo `json:"annotation"`
}

func (s Snapshot) CanSubmit() bool {
	return s.State == StateLoaded && !s.Loading
}
