package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/domain"
	"github.com/mirecekd/trnda/internal/notify"
	"github.com/mirecekd/trnda/internal/repository"
	"github.com/mirecekd/trnda/pkg/render"
	"github.com/mirecekd/trnda/pkg/sanitize"
)

const DefaultResetDelay = 3 * time.Second

const (
	msgLoading       = "Loading image..."
	msgLoaded        = "Image loaded! Rotate if needed, then upload."
	msgUploading     = "Uploading..."
	msgUploaded      = "Upload successful! Your diagram will be processed in 10-15 minutes."
	msgEmailHint     = " Report will be sent to your email."
	msgInvalidType   = "Please select a valid image file."
	msgTooLarge      = "Image size must be less than 10MB."
	msgTooManyPixels = "Image resolution is too large."
	msgDecodeFailed  = "Could not read the selected image."
	msgEncodeFailed  = "Could not prepare the image for upload."
	msgTooLong       = "Client info exceeds 1900 characters limit."
	msgStorageAuth   = "Storage credentials not configured. Please check the deployment configuration."
	msgUploadFailed  = "Upload failed. Please try again."
)

// Renderer is the decode / draw-rotated / encode capability of the pipeline.
type Renderer interface {
	DecodeConfig(data []byte) (image.Config, string, error)
	Decode(data []byte) (image.Image, error)
	Render(src image.Image, angle int) image.Image
	Encode(img image.Image) ([]byte, error)
}

type Option func(*Pipeline)

func WithResetDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.resetDelay = d }
}

func WithKeyGenerator(g *KeyGenerator) Option {
	return func(p *Pipeline) { p.keys = g }
}

func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline stages one candidate image from selection to upload. It allows at
// most one in-flight decode or upload; overlapping calls fail with
// domain.ErrBusy.
type Pipeline struct {
	renderer   Renderer
	store      repository.ObjectStore
	notifier   notify.Notifier
	keys       *KeyGenerator
	bucket     string
	resetDelay time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu         sync.Mutex
	state      domain.State
	inFlight   bool
	source     *domain.SourceImage
	bitmap     image.Image
	staged     *domain.StagedImage
	canvas     image.Image
	annotation string
	status     domain.Status
	generation uint64
	resetTimer *time.Timer
}

func NewPipeline(renderer Renderer, store repository.ObjectStore, bucket string, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		renderer:   renderer,
		store:      store,
		notifier:   notify.Noop(),
		bucket:     bucket,
		resetDelay: DefaultResetDelay,
		now:        time.Now,
		log:        log,
		state:      domain.StateEmpty,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.keys == nil {
		p.keys = NewKeyGenerator(p.now)
	}
	return p
}

// SelectImage validates, decodes and stages file. A rejected file leaves the
// previously staged image in place.
func (p *Pipeline) SelectImage(ctx context.Context, file domain.ImageFile) (*domain.SourceImage, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if msg, err := validateFile(file); err != nil {
		p.setStatusLocked(domain.StatusError, msg)
		p.mu.Unlock()
		p.log.Warn("Image rejected",
			zap.String("name", file.Name),
			zap.String("content_type", file.ContentType),
			zap.Int64("size", file.Size),
			zap.Error(err))
		return nil, err
	}
	p.inFlight = true
	p.setStatusLocked(domain.StatusInfo, msgLoading)
	p.mu.Unlock()

	decoded, msg, err := p.decode(ctx, file)

	var bounded image.Image
	if err == nil {
		// Bound once; rotations re-render from the bounded bitmap.
		bounded = p.renderer.Render(decoded, 0)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false

	if err != nil {
		p.setStatusLocked(domain.StatusError, msg)
		p.log.Warn("Image decode failed", zap.String("name", file.Name), zap.Error(err))
		return nil, err
	}

	if p.state == domain.StateUploaded {
		// The uploaded image's annotation must not follow the new one.
		p.resetLocked()
	} else {
		p.releaseLocked()
	}

	b := decoded.Bounds()
	p.source = &domain.SourceImage{
		Name:        file.Name,
		Size:        file.Size,
		ContentType: file.ContentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}
	p.bitmap = bounded
	p.canvas = bounded
	p.staged = stagedFor(bounded, 0)
	p.state = domain.StateLoaded
	p.setStatusLocked(domain.StatusSuccess, msgLoaded)

	p.log.Info("Image staged",
		zap.String("name", file.Name),
		zap.Int("width", p.source.Width),
		zap.Int("height", p.source.Height),
		zap.Int("render_width", p.staged.Width),
		zap.Int("render_height", p.staged.Height))

	src := *p.source
	return &src, nil
}

func (p *Pipeline) decode(ctx context.Context, file domain.ImageFile) (image.Image, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, msgDecodeFailed, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}

	data, err := io.ReadAll(io.LimitReader(file.Body, domain.MaxUploadSize+1))
	if err != nil {
		return nil, msgDecodeFailed, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if len(data) > domain.MaxUploadSize {
		return nil, msgTooLarge, fmt.Errorf("%w: image size must be less than 10MB", domain.ErrValidation)
	}

	cfg, _, err := p.renderer.DecodeConfig(data)
	if err != nil {
		return nil, msgDecodeFailed, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > domain.MaxPixels {
		return nil, msgTooManyPixels, fmt.Errorf("%w: image has %dx%d pixels", domain.ErrValidation, cfg.Width, cfg.Height)
	}

	bitmap, err := p.renderer.Decode(data)
	if err != nil {
		return nil, msgDecodeFailed, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return bitmap, "", nil
}

// Rotate advances the rotation by 90 degrees clockwise.
func (p *Pipeline) Rotate() (*domain.StagedImage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return nil, domain.ErrBusy
	}
	if p.state != domain.StateLoaded {
		return nil, domain.ErrInvalidState
	}

	rotation := p.staged.Rotation.Next()
	p.canvas = p.renderer.Render(p.bitmap, int(rotation))
	p.staged = stagedFor(p.bitmap, rotation)
	p.setStatusLocked(domain.StatusInfo, fmt.Sprintf("Image rotated to %d°", p.staged.Rotation))

	staged := *p.staged
	return &staged, nil
}

// SetAnnotation sanitizes and stores raw. Over-long text is accepted here and
// rejected at submit.
func (p *Pipeline) SetAnnotation(raw string) domain.AnnotationInfo {
	text := sanitize.Text(raw)

	p.mu.Lock()
	p.annotation = text
	p.mu.Unlock()

	return domain.NewAnnotationInfo(text)
}

// Submit encodes the staged canvas and hands it to the object store. On
// failure the staged image and annotation are kept so the caller can retry.
func (p *Pipeline) Submit(ctx context.Context) (*domain.UploadResult, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, domain.ErrBusy
	}
	if p.state != domain.StateLoaded {
		p.mu.Unlock()
		return nil, domain.ErrInvalidState
	}

	clientInfo := strings.TrimSpace(p.annotation)
	if len(clientInfo) > domain.AnnotationMaxLength {
		p.setStatusLocked(domain.StatusError, msgTooLong)
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: client info has %d characters, limit is %d",
			domain.ErrValidation, len(clientInfo), domain.AnnotationMaxLength)
	}

	p.state = domain.StateUploading
	p.inFlight = true
	p.setStatusLocked(domain.StatusInfo, msgUploading)
	canvas := p.canvas
	p.mu.Unlock()

	// Uploads are not user-cancellable.
	ctx = context.WithoutCancel(ctx)

	data, err := p.renderer.Encode(canvas)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrEncode, err)
		p.failUpload(err, msgEncodeFailed)
		return nil, err
	}

	payload := domain.NewUploadPayload(p.keys.Next(), data, clientInfo)

	p.log.Info("Uploading image",
		zap.String("bucket", p.bucket),
		zap.String("key", payload.Key),
		zap.Int("size", len(payload.Body)),
		zap.Bool("has_client_info", payload.Metadata != nil))

	if err := p.store.PutObject(ctx, p.bucket, payload); err != nil {
		if !errors.Is(err, domain.ErrStorageAuth) && !errors.Is(err, domain.ErrStorage) {
			err = fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		p.failUpload(err, uploadFailureMessage(err))
		return nil, err
	}

	result := &domain.UploadResult{
		Bucket:      p.bucket,
		Key:         payload.Key,
		Size:        int64(len(payload.Body)),
		ContentType: payload.ContentType,
		Metadata:    payload.Metadata,
		UploadedAt:  p.now(),
	}

	msg := msgUploaded
	if strings.Contains(clientInfo, "@") {
		msg += msgEmailHint
	}

	p.mu.Lock()
	p.inFlight = false
	p.releaseLocked()
	p.state = domain.StateUploaded
	p.setStatusLocked(domain.StatusSuccess, msg)
	p.scheduleResetLocked()
	p.mu.Unlock()

	p.log.Info("Image uploaded",
		zap.String("bucket", result.Bucket),
		zap.String("key", result.Key),
		zap.Int64("size", result.Size))

	event := domain.UploadEvent{
		Bucket:     result.Bucket,
		Key:        result.Key,
		Size:       result.Size,
		ClientInfo: clientInfo,
		UploadedAt: result.UploadedAt,
	}
	if err := p.notifier.UploadCompleted(ctx, event); err != nil {
		p.log.Warn("Upload notification failed", zap.String("key", result.Key), zap.Error(err))
	}

	return result, nil
}

func (p *Pipeline) failUpload(err error, msg string) {
	p.mu.Lock()
	p.inFlight = false
	p.state = domain.StateLoaded
	p.setStatusLocked(domain.StatusError, msg)
	p.mu.Unlock()

	p.log.Error("Upload failed",
		zap.String("bucket", p.bucket),
		zap.Bool("auth", errors.Is(err, domain.ErrStorageAuth)),
		zap.Error(err))
}

// Reset drops the staged image and annotation and returns to the empty state.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return domain.ErrBusy
	}
	p.resetLocked()
	return nil
}

func (p *Pipeline) Snapshot() domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := domain.Snapshot{
		State:      p.state,
		Loading:    p.inFlight && p.state != domain.StateUploading,
		Status:     p.status,
		Annotation: domain.NewAnnotationInfo(p.annotation),
	}
	if p.source != nil {
		src := *p.source
		snap.Source = &src
	}
	if p.staged != nil {
		staged := *p.staged
		snap.Staged = &staged
	}
	return snap
}

// Preview returns the rendered canvas, if an image is staged.
func (p *Pipeline) Preview() (image.Image, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.canvas == nil {
		return nil, false
	}
	return p.canvas, true
}

// Busy reports whether a decode or an upload is in flight.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// stagedFor describes bitmap, already bounded, drawn at rotation.
func stagedFor(bitmap image.Image, rotation domain.Rotation) *domain.StagedImage {
	b := bitmap.Bounds()
	canvasWidth, canvasHeight := render.Canvas(b.Dx(), b.Dy(), int(rotation))
	return &domain.StagedImage{
		Rotation:     rotation,
		Width:        b.Dx(),
		Height:       b.Dy(),
		CanvasWidth:  canvasWidth,
		CanvasHeight: canvasHeight,
	}
}

func (p *Pipeline) releaseLocked() {
	p.generation++
	if p.resetTimer != nil {
		p.resetTimer.Stop()
		p.resetTimer = nil
	}
	p.source = nil
	p.bitmap = nil
	p.staged = nil
	p.canvas = nil
}

func (p *Pipeline) resetLocked() {
	p.releaseLocked()
	p.annotation = ""
	p.state = domain.StateEmpty
	p.status = domain.Status{}
}

func (p *Pipeline) scheduleResetLocked() {
	if p.resetDelay <= 0 {
		p.resetLocked()
		return
	}

	gen := p.generation
	p.resetTimer = time.AfterFunc(p.resetDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation == gen && p.state == domain.StateUploaded {
			p.resetLocked()
		}
	})
}

func (p *Pipeline) setStatusLocked(level domain.StatusLevel, msg string) {
	p.status = domain.Status{Level: level, Message: msg}
}

func validateFile(file domain.ImageFile) (string, error) {
	if !strings.HasPrefix(strings.ToLower(file.ContentType), "image/") {
		return msgInvalidType, fmt.Errorf("%w: %q is not an image type", domain.ErrValidation, file.ContentType)
	}
	if file.Size > domain.MaxUploadSize {
		return msgTooLarge, fmt.Errorf("%w: image size must be less than 10MB", domain.ErrValidation)
	}
	if file.Body == nil {
		return msgInvalidType, fmt.Errorf("%w: empty file", domain.ErrValidation)
	}
	return "", nil
}

func uploadFailureMessage(err error) string {
	if errors.Is(err, domain.ErrStorageAuth) {
		return msgStorageAuth
	}
	if detail := storageDetail(err); detail != "" {
		return "Upload failed: " + detail
	}
	return msgUploadFailed
}

func storageDetail(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, domain.ErrStorage.Error()+": ")
	if msg == domain.ErrStorage.Error() {
		return ""
	}
	return msg
}
