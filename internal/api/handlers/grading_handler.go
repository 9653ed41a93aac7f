package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/logger"
)

const gradingPath = "/admin/grading"

// GradingHandler administers grade thresholds, descriptive criteria and evaluation parameters.
type GradingHandler struct {
	db   *sqlite.Client
	view *View
}

func NewGradingHandler(db *sqlite.Client, view *View) *GradingHandler {
	return &GradingHandler{db: db, view: view}
}

type thresholdForm struct {
	GradeLetter string   `form:"grade_letter" validate:"notblank,max=10"`
	MinScore    *float64 `form:"min_score" validate:"required"`
}

type criterionForm struct {
	ParameterName string   `form:"parameter_name" validate:"notblank,max=100"`
	Criterion     string   `form:"criterion" validate:"notblank,max=200"`
	Score         *float64 `form:"score" validate:"required"`
}

func (h *GradingHandler) Index(c *fiber.Ctx) error {
	ctx := c.UserContext()
	thresholds, err := h.db.ListThresholds(ctx)
	if err != nil {
		return err
	}
	criteria, err := h.db.ListCriteria(ctx)
	if err != nil {
		return err
	}
	params, err := h.db.ListParameters(ctx)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/grading", "Grading", fiber.Map{
		"Thresholds": thresholds,
		"Criteria":   evaluation.GroupByParameter(criteria),
		"Parameters": params,
	})
}

func (h *GradingHandler) CreateThreshold(c *fiber.Ctx) error {
	var form thresholdForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, gradingPath, flash.Danger, formError(err))
	}

	t := &models.GradeThreshold{
		GradeLetter: strings.TrimSpace(form.GradeLetter),
		MinScore:    *form.MinScore,
	}
	if err := h.db.CreateThreshold(c.UserContext(), t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.view.Redirect(c, gradingPath, flash.Danger,
				fmt.Sprintf("Grade %s already exists; edit its minimum score instead.", t.GradeLetter))
		}
		return err
	}

	logger.Info("Grade threshold created", zap.String("grade", t.GradeLetter), zap.Float64("min_score", t.MinScore))
	return h.view.Redirect(c, gradingPath, flash.Success, "Grade "+t.GradeLetter+" added.")
}

func (h *GradingHandler) UpdateThreshold(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var form struct {
		MinScore *float64 `form:"min_score" validate:"required"`
	}
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, gradingPath, flash.Danger, formError(err))
	}

	if err := h.db.UpdateThreshold(c.UserContext(), id, *form.MinScore); err != nil {
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Threshold updated.")
}

func (h *GradingHandler) DeleteThreshold(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.db.DeleteThreshold(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Threshold deleted.")
}

func (h *GradingHandler) CreateCriterion(c *fiber.Ctx) error {
	var form criterionForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, gradingPath, flash.Danger, formError(err))
	}

	dc := &models.DescriptiveCriterion{
		ParameterName: strings.TrimSpace(form.ParameterName),
		Criterion:     strings.TrimSpace(form.Criterion),
		Score:         *form.Score,
	}
	if err := h.db.CreateCriterion(c.UserContext(), dc); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.view.Redirect(c, gradingPath, flash.Danger,
				fmt.Sprintf("%q is already defined for %s.", dc.Criterion, dc.ParameterName))
		}
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Criterion added.")
}

func (h *GradingHandler) DeleteCriterion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.db.DeleteCriterion(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Criterion deleted.")
}

type parameterForm struct {
	Name   string   `form:"name" validate:"notblank,max=150"`
	Weight *float64 `form:"weight" validate:"omitempty,gte=0"`
}

// CreateParameter defaults a blank weight to 1.
func (h *GradingHandler) CreateParameter(c *fiber.Ctx) error {
	var form parameterForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, gradingPath, flash.Danger, formError(err))
	}

	p := &models.EvaluationParameter{Name: strings.TrimSpace(form.Name), Weight: 1}
	if form.Weight != nil {
		p.Weight = *form.Weight
	}
	if err := h.db.CreateParameter(c.UserContext(), p); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.view.Redirect(c, gradingPath, flash.Danger,
				fmt.Sprintf("Parameter %s already exists.", p.Name))
		}
		return err
	}

	logger.Info("Evaluation parameter created", zap.String("name", p.Name), zap.Float64("weight", p.Weight))
	return h.view.Redirect(c, gradingPath, flash.Success, "Parameter "+p.Name+" added.")
}

func (h *GradingHandler) UpdateParameter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var form struct {
		Weight *float64 `form:"weight" validate:"required,gte=0"`
	}
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, gradingPath, flash.Danger, formError(err))
	}

	if err := h.db.UpdateParameterWeight(c.UserContext(), id, *form.Weight); err != nil {
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Parameter weight updated.")
}

func (h *GradingHandler) DeleteParameter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.db.DeleteParameter(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, gradingPath, flash.Success, "Parameter deleted.")
}
