package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fieldsales/backend/internal/storage/models"
)

var (
	customerNumberHeaders = []string{"number", "customer number", "customer_number", "code"}
	customerNameHeaders   = []string{"name", "customer name", "customer_name"}
	routeNumberHeaders    = []string{"route_number", "route number", "route no", "number"}
	routeNameHeaders      = []string{"route_name", "route name", "name"}
	provinceNameHeaders   = []string{"province", "name"}
	populationHeaders     = []string{"population", "pop"}
)

// headerIndex maps the case-folded header to the header as written in the file.
func headerIndex(headers []string) map[string]string {
	index := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := index[key]; !ok && key != "" {
			index[key] = h
		}
	}
	return index
}

func hasAny(index map[string]string, aliases []string) bool {
	for _, a := range aliases {
		if _, ok := index[a]; ok {
			return true
		}
	}
	return false
}

func pick(row map[string]string, index map[string]string, aliases ...string) string {
	for _, a := range aliases {
		if h, ok := index[a]; ok {
			if v := strings.TrimSpace(row[h]); v != "" {
				return v
			}
		}
	}
	return ""
}

func parseFloat(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func coordinate(raw string, limit float64) (*float64, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	v, ok := parseFloat(raw)
	if !ok || v < -limit || v > limit {
		return nil, false
	}
	return &v, true
}

// CustomersFromTable maps an uploaded customer sheet. Rows without a number or name are
// skipped and reported in warnings, as are unreadable coordinates.
func CustomersFromTable(t *Table) ([]*models.Customer, []string, error) {
	index := headerIndex(t.Headers)
	if !hasAny(index, customerNumberHeaders) && !hasAny(index, customerNameHeaders) {
		return nil, nil, fmt.Errorf("missing headers: need one of %s or %s",
			strings.Join(customerNumberHeaders, "/"), strings.Join(customerNameHeaders, "/"))
	}

	var (
		customers []*models.Customer
		warnings  []string
	)
	for i, row := range t.Rows {
		line := i + 2
		c := &models.Customer{
			Number:     pick(row, index, customerNumberHeaders...),
			Name:       pick(row, index, customerNameHeaders...),
			BranchName: pick(row, index, "bname", "branch", "branch name", "branch_name"),
			Caption:    pick(row, index, "caption"),
			Province:   pick(row, index, "province", "state", "region"),
			City:       pick(row, index, "city"),
			Address:    pick(row, index, "address"),
			Phone:      pick(row, index, "phone", "mobile", "tel"),
		}
		if c.Number == "" && c.Name == "" {
			warnings = append(warnings, fmt.Sprintf("line %d: missing number and name", line))
			continue
		}

		lat, latOK := coordinate(pick(row, index, "latitude", "lat"), 90)
		lng, lngOK := coordinate(pick(row, index, "longitude", "lng", "lon"), 180)
		if !latOK || !lngOK {
			warnings = append(warnings, fmt.Sprintf("line %d: invalid coordinates ignored", line))
		}
		if latOK && lngOK {
			c.Latitude, c.Longitude = lat, lng
		}
		customers = append(customers, c)
	}
	return customers, warnings, nil
}

func RouteReportsFromTable(t *Table) ([]*models.RouteReport, []string, error) {
	index := headerIndex(t.Headers)
	if !hasAny(index, routeNumberHeaders) && !hasAny(index, routeNameHeaders) {
		return nil, nil, fmt.Errorf("missing headers: need one of %s or %s",
			strings.Join(routeNumberHeaders, "/"), strings.Join(routeNameHeaders, "/"))
	}

	var (
		reports  []*models.RouteReport
		warnings []string
	)
	for i, row := range t.Rows {
		line := i + 2
		r := &models.RouteReport{
			RouteNumber:          pick(row, index, routeNumberHeaders...),
			RouteName:            pick(row, index, routeNameHeaders...),
			EmployeeIntermediary: pick(row, index, "employee_intermediary", "employee intermediary", "employee"),
			SalesCenter:          pick(row, index, "sales_center", "sales center"),
		}
		if r.RouteNumber == "" && r.RouteName == "" {
			warnings = append(warnings, fmt.Sprintf("line %d: missing route number and name", line))
			continue
		}
		if raw := pick(row, index, "number_of_customers", "number of customers", "customers"); raw != "" {
			if v, ok := parseFloat(raw); ok && v >= 0 && v == math.Trunc(v) {
				n := int(v)
				r.NumberOfCustomers = &n
			} else {
				warnings = append(warnings, fmt.Sprintf("line %d: invalid number of customers %q", line, raw))
			}
		}
		reports = append(reports, r)
	}
	return reports, warnings, nil
}

// ProvincesFromTable reads province,population rows.
func ProvincesFromTable(t *Table) ([]models.Province, error) {
	index := headerIndex(t.Headers)
	if !hasAny(index, provinceNameHeaders) || !hasAny(index, populationHeaders) {
		return nil, fmt.Errorf("missing headers: need province and population")
	}

	provinces := make([]models.Province, 0, len(t.Rows))
	for i, row := range t.Rows {
		name := pick(row, index, provinceNameHeaders...)
		pop, ok := parseFloat(pick(row, index, populationHeaders...))
		if name == "" || !ok || pop < 0 {
			return nil, fmt.Errorf("line %d: invalid province row", i+2)
		}
		provinces = append(provinces, models.Province{Name: name, Population: int64(pop)})
	}
	return provinces, nil
}
