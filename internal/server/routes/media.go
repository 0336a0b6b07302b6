package routes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-media/internal/logging"
	"github.com/any-hub/any-media/internal/media"
	"github.com/any-hub/any-media/internal/search"
	"github.com/any-hub/any-media/internal/server"
)

// MediaService 是 /play 与 /play/status 依赖的能力，由 media.Facade 实现。
type MediaService interface {
	GetOrFetch(ctx context.Context, id string) (*media.Artifact, error)
	Status(id string) (media.StatusReport, error)
}

// SearchService 是 /search 依赖的能力，由 search.Service 实现。
type SearchService interface {
	Search(ctx context.Context, query string, limit int, forceFallback bool) ([]search.Result, error)
}

// Dependencies 汇总路由所需的服务。
type Dependencies struct {
	Logger    *logrus.Logger
	Media     MediaService
	Search    SearchService
	StartedAt time.Time
}

const msgIDRequired = "Parameter 'id' is required"

// Register 挂载 /play、/play/status、/search 与 /uptime。
func Register(app *fiber.App, deps Dependencies) error {
	if app == nil {
		return errors.New("fiber app required")
	}
	if deps.Logger == nil || deps.Media == nil || deps.Search == nil {
		return errors.New("logger, media and search services required")
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	h := &handlers{deps: deps}
	app.Get("/play", h.play)
	app.Get("/play/status", h.status)
	app.Get("/search", h.search)
	app.Get("/uptime", h.uptime)
	return nil
}

type handlers struct {
	deps Dependencies
}

func (h *handlers) play(c fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgIDRequired})
	}

	started := time.Now()
	artifact, err := h.deps.Media.GetOrFetch(c.Context(), id)
	if err != nil {
		return h.renderError(c, err, logging.MediaFields(id, false))
	}

	fields := logging.MediaFields(id, artifact.CacheHit)
	fields["action"] = "play"
	fields["request_id"] = server.RequestID(c)
	fields["shared"] = artifact.Shared
	fields["size_bytes"] = artifact.SizeBytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	h.deps.Logger.WithFields(fields).Info("play_served")

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set("X-Cache-Hit", strconv.FormatBool(artifact.CacheHit))
	c.Status(fiber.StatusOK)
	// 响应写完后由 fasthttp 关闭文件句柄。
	return c.SendStream(artifact.Reader, int(artifact.SizeBytes))
}

func (h *handlers) status(c fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgIDRequired})
	}
	report, err := h.deps.Media.Status(id)
	if err != nil {
		return h.renderError(c, err, logging.MediaFields(id, false))
	}
	return c.JSON(report)
}

func (h *handlers) search(c fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("src"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": search.MsgQueryRequired})
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	forceFallback := c.Query("ytdlp") == "true"

	results, err := h.deps.Search.Search(c.Context(), query, limit, forceFallback)
	if err != nil {
		return h.renderError(c, err, logging.SearchFields(query, search.ClampLimit(limit), ""))
	}
	return c.JSON(results)
}

func (h *handlers) uptime(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"uptime": FormatUptime(time.Since(h.deps.StartedAt))})
}

// renderError 将带错误码的错误映射为 HTTP 状态码，响应体只包含固定消息。
func (h *handlers) renderError(c fiber.Ctx, err error, fields logrus.Fields) error {
	status := statusFor(err)
	message := "Internal server error"
	var platformErr perrors.PlatformError
	if perrors.As(err, &platformErr) {
		message = platformErr.Message()
	}

	fields["action"] = strings.TrimPrefix(c.Path(), "/")
	fields["request_id"] = server.RequestID(c)
	fields["status"] = status
	entry := h.deps.Logger.WithFields(fields).WithError(err)
	if status >= fiber.StatusInternalServerError {
		entry.Error("request_failed")
	} else {
		entry.Info("request_rejected")
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func statusFor(err error) int {
	switch perrors.GetCode(err) {
	case perrors.CodeInvalidInput:
		return fiber.StatusBadRequest
	case perrors.CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
