package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/quota"
	"github.com/fieldsales/backend/internal/storage"
)

const quotaPath = "/admin/quota"

// ActionsHandler drives the quota workflow: capacity, targets, weights and allocations.
type ActionsHandler struct {
	quota *quota.Service
	view  *View
}

func NewActionsHandler(quotaService *quota.Service, view *View) *ActionsHandler {
	return &ActionsHandler{quota: quotaService, view: view}
}

func (h *ActionsHandler) Index(c *fiber.Ctx) error {
	ctx := c.UserContext()

	targets, err := h.quota.Targets(ctx)
	if err != nil {
		return err
	}
	provinces, err := h.quota.Provinces(ctx)
	if err != nil {
		return err
	}
	weights, err := h.quota.GradeWeights(ctx)
	if err != nil {
		return err
	}
	categories, err := h.quota.Categories(ctx)
	if err != nil {
		return err
	}

	return h.view.Render(c, "admin/quota", "Quota", fiber.Map{
		"Targets":    targets,
		"Provinces":  provinces,
		"Weights":    weights,
		"Categories": categories,
	})
}

func (h *ActionsHandler) SetCapacity(c *fiber.Ctx) error {
	liters, errL := optionalFloat(c.FormValue("liter_capacity"))
	shrink, errS := optionalFloat(c.FormValue("shrink_capacity"))
	if errL != nil || errS != nil {
		return h.view.Redirect(c, quotaPath, flash.Danger, quota.ErrInvalidCapacity.Error())
	}

	targets, err := h.quota.SetCapacity(c.UserContext(), liters, shrink)
	if errors.Is(err, quota.ErrNoCapacity) || errors.Is(err, quota.ErrInvalidCapacity) {
		return h.view.Redirect(c, quotaPath, flash.Danger, err.Error())
	}
	if err != nil {
		return err
	}

	return h.view.Redirect(c, quotaPath, flash.Success,
		fmt.Sprintf("Capacity distributed over %d provinces.", len(targets)))
}

func (h *ActionsHandler) Allocation(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	alloc, err := h.quota.AllocatePerCustomer(c.UserContext(), id)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/allocation", alloc.Target.ProvinceName, fiber.Map{"Allocation": alloc})
}

type gradeAllocationJSON struct {
	Grade             string   `json:"grade"`
	Count             int      `json:"count"`
	Weight            float64  `json:"weight"`
	LitersPerCustomer *float64 `json:"liters_per_customer"`
	ShrinkPerCustomer *float64 `json:"shrink_per_customer"`
}

// AllocationJSON is Allocation for API clients. Nil per-customer values encode as null.
func (h *ActionsHandler) AllocationJSON(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	alloc, err := h.quota.AllocatePerCustomer(c.UserContext(), id)
	if err != nil {
		return err
	}

	grades := make([]gradeAllocationJSON, 0, len(alloc.Grades))
	for _, g := range alloc.Grades {
		grades = append(grades, gradeAllocationJSON{
			Grade:             g.Grade,
			Count:             g.Count,
			Weight:            g.Weight,
			LitersPerCustomer: g.LitersPerCustomer,
			ShrinkPerCustomer: g.ShrinkPerCustomer,
		})
	}
	return c.JSON(fiber.Map{
		"province_id":     alloc.Target.ProvinceID,
		"province":        alloc.Target.ProvinceName,
		"percentage":      alloc.Target.Percentage,
		"liter_capacity":  alloc.Target.LiterCapacity,
		"shrink_capacity": alloc.Target.ShrinkCapacity,
		"total_customers": alloc.TotalCustomers,
		"total_weighted":  alloc.TotalWeighted,
		"grades":          grades,
	})
}

// SetWeights reads "weight_<grade>" per known grade. Blank fields keep the default.
func (h *ActionsHandler) SetWeights(c *fiber.Ctx) error {
	ctx := c.UserContext()
	current, err := h.quota.GradeWeights(ctx)
	if err != nil {
		return err
	}

	weights := make(map[string]float64)
	for _, gw := range current {
		raw := strings.TrimSpace(c.FormValue("weight_" + gw.Grade))
		v, err := optionalFloat(raw)
		if err != nil {
			return h.view.Redirect(c, quotaPath, flash.Danger, fmt.Sprintf("%s: %s", quota.ErrInvalidWeight, gw.Grade))
		}
		if v != nil {
			weights[gw.Grade] = *v
		}
	}

	if err := h.quota.SetGradeWeights(ctx, weights); err != nil {
		if errors.Is(err, quota.ErrInvalidWeight) {
			return h.view.Redirect(c, quotaPath, flash.Danger, err.Error())
		}
		return err
	}
	return h.view.Redirect(c, quotaPath, flash.Success, "Grade weights saved.")
}

func (h *ActionsHandler) ResetWeights(c *fiber.Ctx) error {
	if err := h.quota.ResetGradeWeights(c.UserContext()); err != nil {
		return err
	}
	return h.view.Redirect(c, quotaPath, flash.Success, "Grade weights reset to defaults.")
}

type categoryForm struct {
	Category     string `form:"category" validate:"notblank,max=50"`
	MonthlyQuota int64  `form:"monthly_quota" validate:"required,gt=0"`
}

func (h *ActionsHandler) CreateCategory(c *fiber.Ctx) error {
	var form categoryForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, quotaPath, flash.Danger, formError(err))
	}

	qc, err := h.quota.AddCategory(c.UserContext(), form.Category, form.MonthlyQuota)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return h.view.Redirect(c, quotaPath, flash.Danger,
			fmt.Sprintf("Category %s already exists.", strings.TrimSpace(form.Category)))
	case errors.Is(err, quota.ErrInvalidCategory):
		return h.view.Redirect(c, quotaPath, flash.Danger, err.Error())
	case err != nil:
		return err
	}
	return h.view.Redirect(c, quotaPath, flash.Success, "Category "+qc.Category+" added.")
}

func (h *ActionsHandler) DeleteCategory(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.quota.DeleteCategory(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, quotaPath, flash.Info, "Category deleted.")
}
