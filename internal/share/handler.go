// Package share accepts externally shared images on the share-target
// endpoint and queues them for later analysis.
package share

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/lifecycle"
	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/queue"
)

// fieldName is the multipart field the OS share sheet posts the image under.
const fieldName = "screenshot"

// Enqueuer is the slice of the queue store the handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, img queue.QueuedImage) error
}

// Windows is the slice of the hub the handler needs: bring an open window to
// the foreground, or arrange for the next one to land on the app root.
type Windows interface {
	FocusAny() bool
	RequestOpen()
}

// Handler ingests shared images. The redirect goes out immediately so the
// OS share sheet never hangs; everything else runs as a lifecycle-tracked
// background task and is best-effort.
type Handler struct {
	cfg     config.ShareConfig
	store   Enqueuer
	windows Windows
	tracker *lifecycle.Tracker
	logger  *logging.Logger
}

// NewHandler creates a share ingestion handler.
func NewHandler(cfg config.ShareConfig, store Enqueuer, windows Windows, tracker *lifecycle.Tracker, logger *logging.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		windows: windows,
		tracker: tracker,
		logger:  logger.Named("share"),
	}
}

// Handle responds with the redirect and hands the buffered payload to the
// background ingest. The body is read up front: once the response is written
// the request stream is no longer safe to touch.
func (h *Handler) Handle(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		h.logger.Warn("reading share body failed", zap.Error(err))
		body = nil
	}

	c.Redirect(http.StatusSeeOther, h.cfg.RedirectPath)

	h.tracker.Go("share-ingest", func(ctx context.Context) error {
		return h.ingest(ctx, contentType, body)
	})
}

func (h *Handler) ingest(ctx context.Context, contentType string, body []byte) error {
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		h.logger.Warn("share payload exceeds size limit", zap.Int("bytes", len(body)))
		return nil
	}

	data, declaredType, err := extractImageField(contentType, body)
	if err != nil {
		h.logger.Warn("share payload unreadable", zap.Error(err))
		return nil
	}
	if data == nil {
		h.logger.Warn("share target received no image field")
		return nil
	}

	mimeType := declaredType
	if mimeType == "" || mimeType == "application/octet-stream" {
		// No usable declared type; sniff the bytes.
		mimeType = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(mimeType, "image/") {
		h.logger.Warn("share target rejected non-image payload", zap.String("mime", mimeType))
		return nil
	}

	img := queue.QueuedImage{
		ID:        uuid.NewString(),
		ImageData: base64.StdEncoding.EncodeToString(data),
		MimeType:  mimeType,
	}
	if err := h.store.Enqueue(ctx, img); err != nil {
		return fmt.Errorf("queue shared image: %w", err)
	}
	h.logger.Info("shared image queued",
		zap.String("id", img.ID),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
	)

	if !h.windows.FocusAny() {
		h.windows.RequestOpen()
	}
	return nil
}

// extractImageField parses the multipart body and returns the screenshot
// field's bytes and declared content type. A nil slice means the field was
// absent.
func extractImageField(contentType string, body []byte) ([]byte, string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, "", fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, "", fmt.Errorf("unexpected media type %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, "", fmt.Errorf("multipart boundary missing")
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != fieldName {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, "", fmt.Errorf("read image part: %w", err)
		}
		return data, part.Header.Get("Content-Type"), nil
	}
}
