package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/logger"
)

const (
	stagedKind    = "evaluation"
	batchPath     = "/admin/evaluations/batch"
	previewRows   = 5
	overrideSlots = 5
)

// EvaluationHandler runs manual and batch evaluations.
type EvaluationHandler struct {
	db        *sqlite.Client
	evaluator *evaluation.Evaluator
	processor *ingestion.Processor
	stager    ingestion.Stager
	view      *View
}

func NewEvaluationHandler(db *sqlite.Client, evaluator *evaluation.Evaluator, processor *ingestion.Processor, stager ingestion.Stager, view *View) *EvaluationHandler {
	return &EvaluationHandler{
		db:        db,
		evaluator: evaluator,
		processor: processor,
		stager:    stager,
		view:      view,
	}
}

// parameterWeights maps case-folded parameter names to their stored weight, formatted for a form.
func (h *EvaluationHandler) parameterWeights(c *fiber.Ctx) (map[string]string, error) {
	params, err := h.db.ListParameters(c.UserContext())
	if err != nil {
		return nil, err
	}
	weights := make(map[string]string, len(params))
	for _, p := range params {
		weights[strings.ToLower(p.Name)] = strconv.FormatFloat(p.Weight, 'f', -1, 64)
	}
	return weights, nil
}

func defaultWeight(weights map[string]string, name string) string {
	if w, ok := weights[strings.ToLower(strings.TrimSpace(name))]; ok {
		return w
	}
	return "1"
}

func (h *EvaluationHandler) ManualPage(c *fiber.Ctx) error {
	customers, err := h.db.ListCustomers(c.UserContext())
	if err != nil {
		return err
	}
	stored, err := h.parameterWeights(c)
	if err != nil {
		return err
	}
	weights := make(map[string]string, len(evaluation.ManualFields))
	for _, f := range evaluation.ManualFields {
		weights[f.Key] = defaultWeight(stored, f.Key)
	}

	return h.view.Render(c, "admin/evaluate_manual", "Manual evaluation", fiber.Map{
		"Customers": customers,
		"Fields":    evaluation.ManualFields,
		"Weights":   weights,
	})
}

type manualForm struct {
	CustomerID int64 `form:"customer_id" validate:"required,gt=0"`
}

// ManualSubmit reads "<key>_weight" and "<key>_score" for every manual field.
func (h *EvaluationHandler) ManualSubmit(c *fiber.Ctx) error {
	const back = "/admin/evaluations/manual"

	var form manualForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, "Choose a customer to evaluate.")
	}

	weights := make(map[string]float64, len(evaluation.ManualFields))
	row := make(evaluation.Row, len(evaluation.ManualFields))
	for _, f := range evaluation.ManualFields {
		weightKey, scoreKey := f.Key+"_weight", f.Key+"_score"
		rawWeight := strings.TrimSpace(c.FormValue(weightKey))
		rawScore := strings.TrimSpace(c.FormValue(scoreKey))

		if err := validation.Var(weightKey, rawWeight, "required,numeric"); err != nil {
			return h.view.Redirect(c, back, flash.Danger, formError(err))
		}
		if err := validation.Var(scoreKey, rawScore, "required,numeric"); err != nil {
			return h.view.Redirect(c, back, flash.Danger, formError(err))
		}

		w, _ := strconv.ParseFloat(rawWeight, 64)
		weights[f.Key] = w
		row[f.Key] = rawScore
	}

	record, err := h.evaluator.EvaluateSingle(c.UserContext(), form.CustomerID, row, evaluation.ManualParams(weights))
	if err != nil {
		if errors.Is(err, evaluation.ErrMissingRequired) || errors.Is(err, evaluation.ErrInvalidParams) {
			return h.view.Redirect(c, back, flash.Danger, err.Error())
		}
		return err
	}

	return h.view.Redirect(c, "/admin/evaluations", flash.Success,
		fmt.Sprintf("%s scored %.2f (grade %s).", record.SubjectName, record.TotalScore, record.AssignedGrade))
}

func (h *EvaluationHandler) UploadPage(c *fiber.Ctx) error {
	return h.view.Render(c, "admin/evaluate_upload", "Batch evaluation", fiber.Map{
		"NumberColumn": evaluation.NumberColumn,
		"NameColumn":   evaluation.NameColumn,
	})
}

// Upload parses the file and stages it until the columns are configured.
func (h *EvaluationHandler) Upload(c *fiber.Ctx) error {
	name, data, err := readUpload(c)
	if err != nil {
		return h.view.Redirect(c, batchPath, flash.Danger, err.Error())
	}

	table, err := h.processor.Parse(name, data)
	if err != nil {
		return h.view.Redirect(c, batchPath, flash.Danger, uploadError(err))
	}

	upload := ingestion.NewStagedUpload(stagedKind, name, data, table)
	if err := h.stager.Stage(c.UserContext(), upload); err != nil {
		return err
	}

	logger.Info("Evaluation upload staged",
		zap.String("key", upload.Key),
		zap.String("file", name),
		zap.Int("rows", len(table.Rows)),
	)
	return c.Redirect(batchPath+"/"+upload.Key, fiber.StatusFound)
}

func (h *EvaluationHandler) loadStaged(c *fiber.Ctx) (*ingestion.StagedUpload, error) {
	upload, err := h.stager.Load(c.UserContext(), c.Params("key"))
	if err != nil {
		return nil, err
	}
	if upload.Kind != stagedKind {
		return nil, ingestion.ErrStagedNotFound
	}
	return upload, nil
}

// scoreColumns are the headers that can be weighted.
func scoreColumns(headers []string) []string {
	cols := make([]string, 0, len(headers))
	for _, h := range headers {
		if h == evaluation.NumberColumn || h == evaluation.NameColumn {
			continue
		}
		cols = append(cols, h)
	}
	return cols
}

func (h *EvaluationHandler) ConfigurePage(c *fiber.Ctx) error {
	upload, err := h.loadStaged(c)
	if errors.Is(err, ingestion.ErrStagedNotFound) {
		return h.view.Redirect(c, batchPath, flash.Warning, "That upload has expired. Please upload the file again.")
	}
	if err != nil {
		return err
	}

	preview := upload.Table.Rows
	if len(preview) > previewRows {
		preview = preview[:previewRows]
	}
	criteria, err := h.db.ListCriteria(c.UserContext())
	if err != nil {
		return err
	}
	stored, err := h.parameterWeights(c)
	if err != nil {
		return err
	}
	columns := scoreColumns(upload.Table.Headers)
	weights := make(map[string]string, len(columns))
	for _, col := range columns {
		weights[col] = defaultWeight(stored, col)
	}

	return h.view.Render(c, "admin/evaluate_configure", "Configure columns", fiber.Map{
		"Upload":        upload,
		"Columns":       columns,
		"Weights":       weights,
		"Headers":       upload.Table.Headers,
		"Preview":       preview,
		"RowCount":      len(upload.Table.Rows),
		"Criteria":      evaluation.GroupByParameter(criteria),
		"OverrideSlots": make([]struct{}, overrideSlots),
	})
}

type overrideRows struct {
	Parameters []string `form:"override_parameter"`
	Criteria   []string `form:"override_criterion"`
	Scores     []string `form:"override_score"`
}

// batchParams reads "use_<i>", "weight_<i>", "kind_<i>" and "required_<i>" per score column.
func batchParams(c *fiber.Ctx, columns []string) ([]evaluation.ParameterConfig, error) {
	var params []evaluation.ParameterConfig
	for i, col := range columns {
		idx := strconv.Itoa(i)
		if c.FormValue("use_"+idx) == "" {
			continue
		}
		weight, ok := evaluation.ParseNumber(c.FormValue("weight_" + idx))
		if !ok {
			return nil, fmt.Errorf("%s: weight must be a number", col)
		}
		kind, err := evaluation.ParseKind(c.FormValue("kind_" + idx))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", col, err)
		}
		params = append(params, evaluation.ParameterConfig{
			Name:     col,
			Weight:   weight,
			Kind:     kind,
			Required: c.FormValue("required_"+idx) != "",
		})
	}
	return params, nil
}

func batchOverrides(form overrideRows, params []evaluation.ParameterConfig) ([]models.DescriptiveCriterion, error) {
	descriptive := make(map[string]bool)
	for _, p := range params {
		if p.Kind == evaluation.KindDescriptive {
			descriptive[p.Name] = true
		}
	}

	var overrides []models.DescriptiveCriterion
	for i := range form.Parameters {
		param := strings.TrimSpace(form.Parameters[i])
		var criterion, rawScore string
		if i < len(form.Criteria) {
			criterion = strings.TrimSpace(form.Criteria[i])
		}
		if i < len(form.Scores) {
			rawScore = form.Scores[i]
		}
		if param == "" && criterion == "" && strings.TrimSpace(rawScore) == "" {
			continue
		}
		if !descriptive[param] {
			return nil, fmt.Errorf("override for %q: column is not selected as descriptive", param)
		}
		if criterion == "" {
			return nil, fmt.Errorf("override for %q: criterion text is required", param)
		}
		score, ok := evaluation.ParseNumber(rawScore)
		if !ok {
			return nil, fmt.Errorf("override %q for %q: score must be a number", criterion, param)
		}
		overrides = append(overrides, models.DescriptiveCriterion{
			ParameterName: param,
			Criterion:     criterion,
			Score:         score,
		})
	}
	return overrides, nil
}

// Run evaluates the staged rows and shows the outcome.
func (h *EvaluationHandler) Run(c *fiber.Ctx) error {
	ctx := c.UserContext()
	upload, err := h.loadStaged(c)
	if errors.Is(err, ingestion.ErrStagedNotFound) {
		return h.view.Redirect(c, batchPath, flash.Warning, "That upload has expired. Please upload the file again.")
	}
	if err != nil {
		return err
	}
	back := batchPath + "/" + upload.Key

	params, err := batchParams(c, scoreColumns(upload.Table.Headers))
	if err != nil {
		return h.view.Redirect(c, back, flash.Danger, err.Error())
	}

	var form overrideRows
	if err := c.BodyParser(&form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, "Overrides could not be read.")
	}
	overrides, err := batchOverrides(form, params)
	if err != nil {
		return h.view.Redirect(c, back, flash.Danger, err.Error())
	}

	rows := make([]evaluation.Row, len(upload.Table.Rows))
	for i, r := range upload.Table.Rows {
		rows[i] = evaluation.Row(r)
	}

	result, err := h.evaluator.EvaluateBatch(ctx, rows, params, overrides)
	if errors.Is(err, evaluation.ErrInvalidParams) {
		return h.view.Redirect(c, back, flash.Danger, err.Error())
	}
	if err != nil {
		return err
	}

	if err := h.stager.Discard(ctx, upload.Key); err != nil {
		logger.Warn("Failed to discard staged upload", zap.String("key", upload.Key), zap.Error(err))
	}

	return h.view.Render(c, "admin/evaluate_result", "Batch result", fiber.Map{
		"Result":   result,
		"Filename": upload.Filename,
	})
}

type storeEvaluationForm struct {
	StoreID   int64  `form:"store_id" validate:"required,gt=0"`
	StartDate string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}

// EvaluateStore reads "score_<parameter id>" for every evaluation parameter.
func (h *EvaluationHandler) EvaluateStore(c *fiber.Ctx) error {
	const back = "/admin/stores"
	ctx := c.UserContext()

	var form storeEvaluationForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, formError(err))
	}

	params, err := h.db.ListParameters(ctx)
	if err != nil {
		return err
	}
	scores := make(map[int64]string, len(params))
	for _, p := range params {
		key := "score_" + itoa(p.ID)
		raw := strings.TrimSpace(c.FormValue(key))
		if err := validation.Var(key, raw, "omitempty,numeric"); err != nil {
			return h.view.Redirect(c, back, flash.Danger, p.Name+": "+formError(err))
		}
		scores[p.ID] = raw
	}

	eval, err := h.evaluator.EvaluateStore(ctx, evaluation.StoreInput{
		StoreID:   form.StoreID,
		StartDate: parseDate(form.StartDate),
		EndDate:   parseDate(form.EndDate),
		Scores:    scores,
	})
	switch {
	case errors.Is(err, evaluation.ErrInvalidPeriod) || errors.Is(err, evaluation.ErrInvalidParams):
		return h.view.Redirect(c, back, flash.Danger, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return h.view.Redirect(c, back, flash.Danger, "That store does not exist.")
	case err != nil:
		return err
	}

	return h.view.Redirect(c, back, flash.Success,
		fmt.Sprintf("%s scored %.2f (grade %s).", eval.StoreName, eval.TotalScore, eval.Category))
}

func (h *EvaluationHandler) DeleteStoreEvaluation(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.evaluator.DeleteStoreEvaluation(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, "/admin/stores", flash.Info, "Store evaluation deleted.")
}
