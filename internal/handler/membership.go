package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-reservation/internal/membership"
	"github.com/iliyamo/studio-reservation/internal/model"
)

// MembershipHandler serves plans and the member's own ledger entry.
type MembershipHandler struct {
	Service *membership.Service
}

func NewMembershipHandler(svc *membership.Service) *MembershipHandler {
	if svc == nil {
		panic("nil service passed to NewMembershipHandler")
	}
	return &MembershipHandler{Service: svc}
}

type purchaseView struct {
	ID          uint64          `json:"id"`
	PlanID      uint64          `json:"plan_id"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Provider    string          `json:"provider"`
	Membership  *membershipView `json:"membership,omitempty"`
}

// Plans handles GET /v1/membership-plans.  Inactive plans are hidden.
func (h *MembershipHandler) Plans(c echo.Context) error {
	plans, err := h.Service.Plans(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]model.MembershipPlan, 0, len(plans))
	for _, p := range plans {
		if p.Active {
			out = append(out, p)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"plans": out})
}

// Current handles GET /v1/me/membership.
func (h *MembershipHandler) Current(c echo.Context) error {
	memberID, ok := getUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	m, err := h.Service.Current(c.Request().Context(), memberID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"membership": newMembershipView(m)})
}

// Purchase handles POST /v1/me/membership/purchase.  Paid plans answer
// 201 with the intent secrets; the entry appears once the payment webhook
// arrives.
func (h *MembershipHandler) Purchase(c echo.Context) error {
	memberID, ok := getUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		PlanID   uint64 `json:"plan_id" validate:"required"`
		Provider string `json:"provider" validate:"omitempty,oneof=card bank_transfer"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return badRequest(c, err.Error())
	}
	out, err := h.Service.Purchase(c.Request().Context(), memberID, body.PlanID, body.Provider)
	if err != nil {
		return respondError(c, err)
	}
	pv := purchaseView{
		ID:          out.Purchase.ID,
		PlanID:      out.Purchase.PlanID,
		AmountMinor: out.Purchase.AmountMinor,
		Currency:    out.Purchase.Currency,
		Status:      out.Purchase.Status,
		Provider:    out.Purchase.Provider,
	}
	if out.Membership != nil {
		mv := newMembershipView(*out.Membership)
		pv.Membership = &mv
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"purchase":      pv,
		"client_secret": out.ClientSecret,
		"redirect_url":  out.RedirectURL,
	})
}

// Cancel handles POST /v1/me/membership/cancel.
func (h *MembershipHandler) Cancel(c echo.Context) error {
	memberID, ok := getUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	m, err := h.Service.Cancel(c.Request().Context(), memberID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"membership": newMembershipView(m)})
}
