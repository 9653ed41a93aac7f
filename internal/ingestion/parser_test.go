package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fieldsales/backend/internal/storage/models"
)

func TestParseCSV(t *testing.T) {
	data := []byte("\xef\xbb\xbfNumber, Name ,Sales\n1,Alpha,10\n\n,,\n2,Beta\n")

	table, err := Parse("customers.CSV", data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Number", "Name", "Sales"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Alpha", table.Rows[0]["Name"])
	assert.Equal(t, "", table.Rows[1]["Sales"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("data.pdf", []byte("x"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Parse("data.csv", []byte("Number,Name\n"), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Parse("data.csv", []byte(""), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Parse("data.csv", []byte("a\n1\n2\n3\n"), 2)
	assert.ErrorIs(t, err, ErrTooManyRows)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Number", "Name", "Sales"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"7", "Gamma", 42}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := Parse("upload.xlsx", buf.Bytes(), 10)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Gamma", table.Rows[0]["Name"])
	assert.Equal(t, "42", table.Rows[0]["Sales"])
}

func TestCustomersFromTable(t *testing.T) {
	table, err := Parse("c.csv", []byte(
		"number,name,bname,province,latitude,longitude\n"+
			"100,Shop,Main,Tehran,35.7,51.4\n"+
			",,,,,\n"+
			"101,Bad coords,,Fars,95,51\n"+
			",,Branch only,Qom,,\n"), 0)
	require.NoError(t, err)

	customers, warnings, err := CustomersFromTable(table)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, "Main", customers[0].BranchName)
	assert.Equal(t, 35.7, *customers[0].Latitude)
	assert.Nil(t, customers[1].Latitude)
	assert.Len(t, warnings, 2)

	_, _, err = CustomersFromTable(&Table{Headers: []string{"foo"}, Rows: []map[string]string{{"foo": "1"}}})
	assert.Error(t, err)
}

func TestRouteReportsFromTable(t *testing.T) {
	table, err := Parse("r.csv", []byte(
		"route_number,route_name,number_of_customers,sales_center\n"+
			"R1,North,12,Center\n"+
			"R2,South,many,\n"), 0)
	require.NoError(t, err)

	reports, warnings, err := RouteReportsFromTable(table)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 12, *reports[0].NumberOfCustomers)
	assert.Nil(t, reports[1].NumberOfCustomers)
	assert.Len(t, warnings, 1)
}

func TestProvincesFromTable(t *testing.T) {
	table, err := Parse("p.csv", []byte("Province,Population\nTehran,\"13,267,637\"\nQom,1292283\n"), 0)
	require.NoError(t, err)

	provinces, err := ProvincesFromTable(table)
	require.NoError(t, err)
	assert.Equal(t, []models.Province{{Name: "Tehran", Population: 13267637}, {Name: "Qom", Population: 1292283}}, provinces)

	table, err = Parse("p.csv", []byte("Province,Population\nTehran,lots\n"), 0)
	require.NoError(t, err)
	_, err = ProvincesFromTable(table)
	assert.Error(t, err)
}

func TestMemoryStagerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStager(time.Minute)
	m.now = func() time.Time { return now }

	up := NewStagedUpload("evaluation", "a.csv", []byte("x"), &Table{Headers: []string{"a"}})
	require.NoError(t, m.Stage(ctx, up))

	got, err := m.Load(ctx, up.Key)
	require.NoError(t, err)
	assert.Equal(t, "a.csv", got.Filename)

	now = now.Add(2 * time.Minute)
	_, err = m.Load(ctx, up.Key)
	assert.ErrorIs(t, err, ErrStagedNotFound)
}

type brokenStager struct{}

func (brokenStager) Stage(context.Context, *StagedUpload) error { return errors.New("down") }
func (brokenStager) Load(context.Context, string) (*StagedUpload, error) {
	return nil, errors.New("down")
}
func (brokenStager) Discard(context.Context, string) error { return nil }

func TestFallbackStager(t *testing.T) {
	ctx := context.Background()
	f := &FallbackStager{Primary: brokenStager{}, Secondary: NewMemoryStager(time.Minute)}

	up := NewStagedUpload("evaluation", "b.csv", []byte("y"), &Table{})
	require.NoError(t, f.Stage(ctx, up))

	got, err := f.Load(ctx, up.Key)
	require.NoError(t, err)
	assert.Equal(t, up.Key, got.Key)

	require.NoError(t, f.Discard(ctx, up.Key))
	_, err = f.Load(ctx, up.Key)
	assert.ErrorIs(t, err, ErrStagedNotFound)
}

type recordingStore struct {
	customers []*models.Customer
	reports   []*models.RouteReport
}

func (r *recordingStore) InsertCustomers(_ context.Context, c []*models.Customer) error {
	r.customers = append(r.customers, c...)
	return nil
}

func (r *recordingStore) InsertRouteReports(_ context.Context, rr []*models.RouteReport) error {
	r.reports = append(r.reports, rr...)
	return nil
}

func TestProcessorImports(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	p := NewProcessor(store, 100)

	res, err := p.ImportCustomers(ctx, "c.csv", []byte("Number,Name\n1,A\n2,B\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Len(t, store.customers, 2)

	res, err = p.ImportRouteReports(ctx, "r.csv", []byte("Route Number,Route Name\nR1,One\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, "One", store.reports[0].RouteName)

	_, err = p.ImportCustomers(ctx, "c.csv", []byte("Number,Name\n,\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)
}
