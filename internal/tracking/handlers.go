// Package tracking exposes the per-user engine lifecycle and sensor intake
// over HTTP. Devices that cannot reach the Kafka broker post samples here
// instead; both paths land on the same supervisor.
package tracking

import (
	"context"
	"errors"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/auth"
	"github.com/coconiss/WalkTracker-sub000/internal/ingest"
	"github.com/coconiss/WalkTracker-sub000/internal/supervisor"
	"github.com/coconiss/WalkTracker-sub000/internal/syncer"
	"github.com/gofiber/fiber/v2"
)

// RecordSource reads persisted daily records for users with no running
// engine.
type RecordSource interface {
	Get(ctx context.Context, userID, date string) (activity.DailyRecord, bool, error)
}

type Handlers struct {
	registry *supervisor.Registry
	records  RecordSource
	now      func() string
}

func NewHandlers(registry *supervisor.Registry, records RecordSource, now func() string) *Handlers {
	return &Handlers{registry: registry, records: records, now: now}
}

func RegisterRoutes(r fiber.Router, h *Handlers, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Post("/start", h.start)
	r.Post("/stop", h.stop)
	r.Post("/events", h.events)
	r.Get("/today", h.today)
	r.Get("/cadence", h.cadence)
	r.Post("/reset", h.reset)
	r.Post("/sync", h.sync)
}

func (h *Handlers) start(c *fiber.Ctx) error {
	sup, err := h.registry.Start(c.Context(), auth.UserID(c))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"state":   "running",
		"cadence": cadenceJSON(sup.Cadence()),
	})
}

func (h *Handlers) stop(c *fiber.Ctx) error {
	if err := h.registry.Stop(c.Context(), auth.UserID(c)); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			return fiber.NewError(fiber.StatusNotFound, "tracking not running")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"state": "stopped"})
}

func (h *Handlers) events(c *fiber.Ctx) error {
	var event ingest.SensorEvent
	if err := c.BodyParser(&event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	// The token owns the sample regardless of what the body claims.
	event.UserID = auth.UserID(c)
	if err := event.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sup, ok := h.registry.Get(event.UserID)
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "tracking not running")
	}

	switch event.Type {
	case ingest.EventStep:
		sup.OnStepSample(event.TotalSinceBoot)
	case ingest.EventPressure:
		sup.OnPressureSample(event.PressureHPa, event.TimestampMs)
	case ingest.EventLocation:
		sup.OnLocationFix(*event.Fix)
	case ingest.EventTransition:
		sup.OnActivityTransition(event.Motion)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *Handlers) today(c *fiber.Ctx) error {
	userID := auth.UserID(c)

	if sup, ok := h.registry.Get(userID); ok {
		return c.JSON(sup.Snapshot())
	}

	rec, ok, err := h.records.Get(c.Context(), userID, h.now())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if !ok {
		rec = activity.DailyRecord{UserID: userID, Date: h.now(), RoutePoints: []activity.RoutePoint{}}
	}
	return c.JSON(activity.Snapshot{
		UserID:        rec.UserID,
		Date:          rec.Date,
		Steps:         rec.Steps,
		DistanceKm:    rec.DistanceKm,
		CaloriesKcal:  rec.CaloriesKcal,
		AltitudeGainM: rec.AltitudeGainM,
		Motion:        activity.Unknown,
	})
}

func (h *Handlers) cadence(c *fiber.Ctx) error {
	sup, ok := h.registry.Get(auth.UserID(c))
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "tracking not running")
	}
	return c.JSON(cadenceJSON(sup.Cadence()))
}

func (h *Handlers) reset(c *fiber.Ctx) error {
	sup, ok := h.registry.Get(auth.UserID(c))
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "tracking not running")
	}
	if err := sup.ResetToday(c.Context()); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "reset"})
}

func (h *Handlers) sync(c *fiber.Ctx) error {
	sup, ok := h.registry.Get(auth.UserID(c))
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "tracking not running")
	}
	out := sup.Flush(c.Context())
	resp := fiber.Map{"status": out.Status.String()}
	if out.Err != nil {
		resp["error"] = out.Err.Error()
	}
	if out.Status == syncer.StatusFailed {
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}
	return c.JSON(resp)
}

func cadenceJSON(cad supervisor.Cadence) fiber.Map {
	return fiber.Map{
		"location_enabled":     cad.LocationEnabled,
		"location_interval_ms": cad.LocationInterval.Milliseconds(),
		"accuracy":             string(cad.Accuracy),
		"pressure_enabled":     cad.PressureEnabled,
		"steps_enabled":        cad.StepsEnabled,
	}
}
