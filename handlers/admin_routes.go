// handlers/admin_routes.go
package handlers

import (
	"strings"

	"data-marketplace/middleware"
	"data-marketplace/models"
	"data-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	Points    *services.PointsService
	Referrals *services.ReferralService
}

// SetupAdminRoutes registers operator endpoints under /s/admin.
func SetupAdminRoutes(app *fiber.App, h *AdminHandler) {
	admin := []fiber.Handler{middleware.UserContextMiddleware(), middleware.RequireRole("admin")}

	app.Post("/s/admin/points/grant", append(admin, h.Grant)...)
	app.Get("/s/admin/points/audit", append(admin, h.Audit)...)
	app.Post("/s/admin/referrals/reconcile", append(admin, h.Reconcile)...)
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) Grant(c *fiber.Ctx) error {
	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Points == 0 {
		return badRequest(c, "points must be non-zero")
	}
	reason := models.ReasonAdminGrant
	if r := strings.TrimSpace(req.Reason); r != "" {
		reason = models.PointsReason(r)
	}
	if reason.Reserved() {
		return badRequest(c, "reason "+string(reason)+" is reserved")
	}
	entry, err := h.Points.AwardPoints(c.UserContext(), req.UserID, req.Points, reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *AdminHandler) Audit(c *fiber.Ctx) error {
	mismatches, err := h.Points.AuditTotals(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"mismatches": mismatches, "count": len(mismatches)})
}

// Reconcile runs one reconciliation pass synchronously. Step failures are
// reported alongside the partial report.
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.Referrals.ReconcileReferrals(c.UserContext())
	resp := fiber.Map{"report": report}
	if err != nil {
		resp["error"] = err.Error()
		return c.Status(fiber.StatusMultiStatus).JSON(resp)
	}
	return c.JSON(resp)
}
