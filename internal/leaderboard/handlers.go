package leaderboard

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/:period/:key", func(c *fiber.Ctx) error {
		period := Period(c.Params("period"))
		switch period {
		case Daily, Monthly, Yearly:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "unknown period")
		}
		entries, err := svc.Top(c.Context(), period, c.Params("key"), c.QueryInt("limit", 50))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if entries == nil {
			entries = []Entry{}
		}
		return c.JSON(entries)
	})

	r.Post("/:period/:key/recompute", authMiddleware, func(c *fiber.Ctx) error {
		count, err := svc.UpdatePeriod(c.Context(), Period(c.Params("period")), c.Params("key"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"updated": count})
	})
}
