// handlers/contribution_routes.go
package handlers

import (
	"strconv"
	"strings"
	"time"

	"data-marketplace/apperr"
	"data-marketplace/logger"
	"data-marketplace/middleware"
	"data-marketplace/models"
	"data-marketplace/providers"
	"data-marketplace/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type ContributionHandler struct {
	Contributions *services.ContributionService
	Points        *services.PointsService
	Users         *services.UserService
}

func SetupContributionRoutes(app *fiber.App, h *ContributionHandler, gate *middleware.AdmissionGate) {
	userCtx := middleware.UserContextMiddleware()

	app.Post("/contributions", userCtx, gate.Middleware(), h.Submit)
	app.Get("/contributions", userCtx, h.Query)
	app.Get("/user/contributions", userCtx, h.Mine)
}

type submitRequest struct {
	ID               string                 `json:"id"`
	ProviderType     string                 `json:"provider_type"`
	ProofID          string                 `json:"proof_id"`
	Payload          map[string]interface{} `json:"payload"`
	DerivedMetadata  map[string]interface{} `json:"derived_metadata"`
	Status           string                 `json:"status"`
	ProcessingMethod string                 `json:"processing_method"`
	CreatedAt        *time.Time             `json:"created_at"`
	WalletAddress    *string                `json:"wallet_address"`
}

// Submit stores a contribution for the caller and pays the contribution
// bonus once per newly created row.
func (h *ContributionHandler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	typ, err := providers.ParseType(req.ProviderType)
	if err != nil {
		return respondError(c, err)
	}

	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}

	wallet := req.WalletAddress
	if wallet == nil {
		wallet = user.WalletAddress
	}
	out, err := h.Contributions.SubmitContribution(c.UserContext(), services.Submission{
		ID:               req.ID,
		UserID:           user.ID,
		ProviderType:     typ,
		ProofID:          strings.TrimSpace(req.ProofID),
		Payload:          req.Payload,
		DerivedMetadata:  req.DerivedMetadata,
		Status:           req.Status,
		ProcessingMethod: req.ProcessingMethod,
		CreatedAt:        req.CreatedAt,
		WalletAddress:    wallet,
	})
	if err != nil {
		return respondError(c, err)
	}

	switch out.Result {
	case services.ResultSkipped:
		return c.Status(fiber.StatusAccepted).JSON(out)
	case services.ResultDuplicate:
		return c.Status(fiber.StatusOK).JSON(out)
	}

	if !out.Created {
		return c.Status(fiber.StatusOK).JSON(out)
	}
	resp := fiber.Map{"result": out.Result, "id": out.ID, "created": true}
	if bonus := h.Points.Config.ContributionBonus; bonus > 0 {
		entry, err := h.Points.AwardPoints(c.UserContext(), user.ID, bonus, models.ReasonContributionBonus)
		if err != nil {
			// the contribution is stored; the audit job surfaces any gap
			logger.WithFields(logrus.Fields{"user_id": user.ID, "contribution_id": out.ID}).
				Errorf("contribution bonus not awarded: %v", err)
		} else {
			resp["points_awarded"] = entry.Points
		}
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Query serves marketplace reads. Field predicates use eq.<col>, min.<col>
// and max.<col> query parameters and require provider.
func (h *ContributionHandler) Query(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return respondError(c, err)
	}
	rows, err := h.Contributions.QueryContributions(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"contributions": rows, "count": len(rows)})
}

func (h *ContributionHandler) Mine(c *fiber.Ctx) error {
	user, err := currentUser(c, h.Users)
	if err != nil {
		return respondError(c, err)
	}
	rows, err := h.Contributions.GetUserContributions(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"contributions": rows, "count": len(rows)})
}

func invalidFilter(msg string) error {
	return apperr.New(apperr.KindInvalid, apperr.CodeInvalidFilter, msg)
}

func parseFilter(c *fiber.Ctx) (services.Filter, error) {
	f := services.Filter{
		UserID: c.Query("user_id"),
		Eq:     map[string]string{},
		Min:    map[string]float64{},
		Max:    map[string]float64{},
	}
	if raw := c.Query("provider"); raw != "" {
		typ, err := providers.ParseType(raw)
		if err != nil {
			return f, err
		}
		f.Provider = typ
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if raw := c.Query(p.name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, invalidFilter(p.name + " must be RFC3339")
			}
			*p.dst = &ts
		}
	}

	f.Limit = c.QueryInt("limit", 50)
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	f.Offset = c.QueryInt("offset", 0)
	if f.Offset < 0 {
		f.Offset = 0
	}

	for key, value := range c.Queries() {
		op, col, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		switch op {
		case "eq":
			f.Eq[col] = value
		case "min", "max":
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return f, invalidFilter(key + " must be numeric")
			}
			if op == "min" {
				f.Min[col] = n
			} else {
				f.Max[col] = n
			}
		}
	}
	return f, nil
}
