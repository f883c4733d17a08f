// handlers/user_routes.go
package handlers

import (
	"data-marketplace/middleware"
	"data-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

type UserHandler struct {
	Users     *services.UserService
	Points    *services.PointsService
	Referrals *services.ReferralService
	OptOut    *services.OptOutService
}

func SetupUserRoutes(app *fiber.App, h *UserHandler) {
	userCtx := middleware.UserContextMiddleware()

	app.Post("/user/identity", userCtx, h.ReconcileIdentity)
	app.Get("/user/points", userCtx, h.Balance)
	app.Get("/user/points/history", userCtx, h.History)
	app.Get("/user/referral", userCtx, h.GetReferral)
	app.Post("/user/referral", userCtx, h.ApplyReferral)
	app.Post("/user/opt-out", userCtx, h.OptOutUser)
}

type identityRequest struct {
	Email         *string `json:"email"`
	WalletAddress *string `json:"wallet_address"`
	Username      string  `json:"username"`
}

func (h *UserHandler) ReconcileIdentity(c *fiber.Ctx) error {
	var req identityRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	user, created, err := h.Users.ReconcileIdentity(c.UserContext(), services.Identity{
		ExternalID:    middleware.ExternalUserID(c),
		Email:         req.Email,
		WalletAddress: req.WalletAddress,
		Username:      req.Username,
	})
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"user": user, "created": created})
}

func (h *UserHandler) Balance(c *fiber.Ctx) error {
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	balance, err := h.Points.GetBalance(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(balance)
}

func (h *UserHandler) History(c *fiber.Ctx) error {
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	history, err := h.Points.GetHistory(c.UserContext(), user.ID, c.QueryInt("page", 1), c.QueryInt("size", 20))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(history)
}

func (h *UserHandler) GetReferral(c *fiber.Ctx) error {
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	ref, err := h.Referrals.GetReferral(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ref)
}

func (h *UserHandler) ApplyReferral(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Users.ApplyReferralCode(c.UserContext(), user.ID, req.Code); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *UserHandler) OptOutUser(c *fiber.Ctx) error {
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.OptOut.OptOutUser(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
