package handlers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/logger"
)

// DocumentHandler covers the uploaded customer and route report files and the records
// created from them.
type DocumentHandler struct {
	db        *sqlite.Client
	processor *ingestion.Processor
	view      *View
}

func NewDocumentHandler(db *sqlite.Client, processor *ingestion.Processor, view *View) *DocumentHandler {
	return &DocumentHandler{
		db:        db,
		processor: processor,
		view:      view,
	}
}

type customerForm struct {
	Number     string `form:"number" validate:"max=50"`
	Name       string `form:"name" validate:"notblank,max=200"`
	BranchName string `form:"branch_name" validate:"max=200"`
	Caption    string `form:"caption" validate:"max=200"`
	Province   string `form:"province" validate:"max=100"`
	City       string `form:"city" validate:"max=100"`
	Address    string `form:"address" validate:"max=300"`
	Phone      string `form:"phone" validate:"max=50"`
	Latitude   string `form:"latitude"`
	Longitude  string `form:"longitude"`
}

// readUpload returns the name and content of the "file" form field.
func readUpload(c *fiber.Ctx) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, errors.New("choose a file to upload")
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return fh.Filename, data, nil
}

func importMessage(kind string, res *ingestion.ImportResult) string {
	msg := fmt.Sprintf("Imported %d %s.", res.Imported, kind)
	if n := len(res.Warnings); n > 0 {
		msg += fmt.Sprintf(" %d rows were adjusted or skipped: %s", n, strings.Join(firstN(res.Warnings, 5), "; "))
	}
	return msg
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func uploadError(err error) string {
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return "Only CSV and Excel (.xlsx) files are supported."
	case errors.Is(err, ingestion.ErrEmptyFile), errors.Is(err, ingestion.ErrTooManyRows):
		return err.Error()
	}
	return "Import failed: " + err.Error()
}

func (h *DocumentHandler) Customers(c *fiber.Ctx) error {
	customers, err := h.db.ListCustomers(c.UserContext())
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/customers", "Customers", fiber.Map{"Customers": customers})
}

func (h *DocumentHandler) ImportCustomers(c *fiber.Ctx) error {
	name, data, err := readUpload(c)
	if err != nil {
		return h.view.Redirect(c, "/admin/customers", flash.Danger, err.Error())
	}

	res, err := h.processor.ImportCustomers(c.UserContext(), name, data)
	if err != nil {
		logger.Warn("Customer import failed", zap.String("file", name), zap.Error(err))
		return h.view.Redirect(c, "/admin/customers", flash.Danger, uploadError(err))
	}

	category := flash.Success
	if len(res.Warnings) > 0 {
		category = flash.Warning
	}
	return h.view.Redirect(c, "/admin/customers", category, importMessage("customers", res))
}

func (h *DocumentHandler) EditCustomerPage(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	cu, err := h.db.GetCustomer(c.UserContext(), id)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/customer_edit", "Edit customer", fiber.Map{"Customer": cu})
}

func (h *DocumentHandler) UpdateCustomer(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	back := "/admin/customers/" + itoa(id) + "/edit"

	var form customerForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, formError(err))
	}
	lat, lng, ok := optionalCoordinates(form.Latitude, form.Longitude)
	if !ok {
		return h.view.Redirect(c, back, flash.Danger, "Invalid coordinates.")
	}

	cu, err := h.db.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	cu.Number = strings.TrimSpace(form.Number)
	cu.Name = strings.TrimSpace(form.Name)
	cu.BranchName = strings.TrimSpace(form.BranchName)
	cu.Caption = strings.TrimSpace(form.Caption)
	cu.Province = strings.TrimSpace(form.Province)
	cu.City = strings.TrimSpace(form.City)
	cu.Address = strings.TrimSpace(form.Address)
	cu.Phone = strings.TrimSpace(form.Phone)
	cu.Latitude = lat
	cu.Longitude = lng

	if err := h.db.UpdateCustomer(ctx, cu); err != nil {
		return err
	}
	return h.view.Redirect(c, "/admin/customers", flash.Success, "Customer updated.")
}

func (h *DocumentHandler) DeleteCustomer(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.db.DeleteCustomer(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, "/admin/customers", flash.Success, "Customer deleted.")
}

type customerPin struct {
	ID       int64   `json:"id"`
	Number   string  `json:"number"`
	Name     string  `json:"name"`
	Province string  `json:"province"`
	Grade    string  `json:"grade"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// CustomerMap lists customers that have coordinates.
func (h *DocumentHandler) CustomerMap(c *fiber.Ctx) error {
	customers, err := h.db.ListCustomers(c.UserContext())
	if err != nil {
		return err
	}

	pins := make([]customerPin, 0, len(customers))
	for _, cu := range customers {
		if cu.Latitude == nil || cu.Longitude == nil {
			continue
		}
		grade := cu.Grade
		if grade == "" {
			grade = models.Ungraded
		}
		pins = append(pins, customerPin{
			ID:       cu.ID,
			Number:   cu.Number,
			Name:     cu.Name,
			Province: cu.Province,
			Grade:    grade,
			Lat:      *cu.Latitude,
			Lng:      *cu.Longitude,
		})
	}
	return c.JSON(pins)
}

func (h *DocumentHandler) RouteReports(c *fiber.Ctx) error {
	reports, err := h.db.ListRouteReports(c.UserContext())
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/route_reports", "Route reports", fiber.Map{"Reports": reports})
}

func (h *DocumentHandler) ImportRouteReports(c *fiber.Ctx) error {
	name, data, err := readUpload(c)
	if err != nil {
		return h.view.Redirect(c, "/admin/route-reports", flash.Danger, err.Error())
	}

	res, err := h.processor.ImportRouteReports(c.UserContext(), name, data)
	if err != nil {
		logger.Warn("Route report import failed", zap.String("file", name), zap.Error(err))
		return h.view.Redirect(c, "/admin/route-reports", flash.Danger, uploadError(err))
	}

	category := flash.Success
	if len(res.Warnings) > 0 {
		category = flash.Warning
	}
	return h.view.Redirect(c, "/admin/route-reports", category, importMessage("route reports", res))
}

func (h *DocumentHandler) DeleteRouteReport(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.db.DeleteRouteReport(c.UserContext(), id); err != nil {
		return err
	}
	return h.view.Redirect(c, "/admin/route-reports", flash.Success, "Route report deleted.")
}
