package handlers

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/sqlite"
)

const recordsPath = "/admin/evaluations"

// QueryHandler lists evaluation records and edits or removes them.
type QueryHandler struct {
	db        *sqlite.Client
	evaluator *evaluation.Evaluator
	view      *View
}

func NewQueryHandler(db *sqlite.Client, evaluator *evaluation.Evaluator, view *View) *QueryHandler {
	return &QueryHandler{
		db:        db,
		evaluator: evaluator,
		view:      view,
	}
}

func recordsURL(batchID string) string {
	if batchID == "" {
		return recordsPath
	}
	return recordsPath + "?batch=" + url.QueryEscape(batchID)
}

func (h *QueryHandler) Records(c *fiber.Ctx) error {
	ctx := c.UserContext()
	batchID := c.Query("batch")

	records, err := h.db.ListEvaluations(ctx, batchID)
	if err != nil {
		return err
	}
	batches, err := h.db.ListBatches(ctx)
	if err != nil {
		return err
	}

	return h.view.Render(c, "admin/evaluations", "Evaluation records", fiber.Map{
		"Records": records,
		"Batches": batches,
		"Batch":   batchID,
	})
}

func (h *QueryHandler) EditScore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	back := recordsURL(c.FormValue("batch"))

	var form struct {
		Score *float64 `form:"total_score" validate:"required"`
	}
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, "Score must be a number.")
	}

	record, err := h.evaluator.EditScore(c.UserContext(), id, *form.Score)
	if errors.Is(err, evaluation.ErrInvalidScore) {
		return h.view.Redirect(c, back, flash.Danger, err.Error())
	}
	if err != nil {
		return err
	}
	return h.view.Redirect(c, back, flash.Success,
		fmt.Sprintf("Record %d now scores %.2f (grade %s).", record.ID, record.TotalScore, record.AssignedGrade))
}

func (h *QueryHandler) DeleteRecord(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.evaluator.DeleteRecord(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, recordsURL(c.FormValue("batch")), flash.Success, "Record deleted.")
}

func (h *QueryHandler) DeleteBatch(c *fiber.Ctx) error {
	batchID, err := url.PathUnescape(c.Params("batch"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Not found.")
	}

	n, err := h.evaluator.DeleteBatch(c.UserContext(), batchID)
	if errors.Is(err, storage.ErrNotFound) {
		return h.view.Redirect(c, recordsPath, flash.Warning, "Batch "+batchID+" has no records.")
	}
	if err != nil {
		return err
	}
	return h.view.Redirect(c, recordsPath, flash.Success, fmt.Sprintf("Deleted %d records of batch %s.", n, batchID))
}
