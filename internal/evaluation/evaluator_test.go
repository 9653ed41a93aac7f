package evaluation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/retry"
)

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema(context.Background()))

	for _, th := range thresholds() {
		th := th
		require.NoError(t, c.CreateThreshold(context.Background(), &th))
	}
	return c
}

func testRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	cfg.Retryable = sqlite.IsBusy
	return cfg
}

func TestEvaluateSingleUpdatesCustomerGrade(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cust := &models.Customer{Number: "10", Name: "Corner shop", Province: "Tehran"}
	require.NoError(t, store.InsertCustomers(ctx, []*models.Customer{cust}))

	e := NewEvaluator(store, testRetry())
	params := []ParameterConfig{
		{Name: "sales_volume", Weight: 0.6, Kind: KindNumeric, Required: true},
		{Name: "cleanliness", Weight: 0.4, Kind: KindNumeric, Required: true},
	}

	record, err := e.EvaluateSingle(ctx, cust.ID, Row{"sales_volume": "90", "cleanliness": "70"}, params)
	require.NoError(t, err)
	assert.Equal(t, 82.0, record.TotalScore)
	assert.Equal(t, "A", record.AssignedGrade)
	assert.Equal(t, models.MethodManual, record.EvaluationMethod)
	assert.Empty(t, record.BatchID)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Grade)

	// a second evaluation is an independent record and overwrites the cached grade
	_, err = e.EvaluateSingle(ctx, cust.ID, Row{"sales_volume": "50", "cleanliness": "50"}, params)
	require.NoError(t, err)
	got, err = store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.Grade)

	records, err := store.ListEvaluations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = e.EvaluateSingle(ctx, 999, Row{}, params)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEvaluateBatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cust := &models.Customer{Number: "1", Name: "Known", Province: "Fars"}
	require.NoError(t, store.InsertCustomers(ctx, []*models.Customer{cust}))
	require.NoError(t, store.CreateCriterion(ctx, &models.DescriptiveCriterion{ParameterName: "ownership", Criterion: "Owner", Score: 10}))

	e := NewEvaluator(store, testRetry())
	params := []ParameterConfig{
		{Name: "sales", Weight: 1, Kind: KindNumeric, Required: true},
		{Name: "ownership", Weight: 2, Kind: KindDescriptive},
	}
	overrides := []models.DescriptiveCriterion{
		{ParameterName: "ownership", Criterion: "owner", Score: 15},
		{ParameterName: "ownership", Criterion: "Rented", Score: 5},
	}
	rows := []Row{
		{"Number": "1", "Name": "Known", "sales": "50", "ownership": "Owner"},
		{"Number": "2", "Name": "No sales", "sales": "", "ownership": "Rented"},
		{"Number": "3", "Name": "Stranger", "sales": "20", "ownership": "rented"},
	}

	result, err := e.EvaluateBatch(ctx, rows, params, overrides)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	require.Len(t, result.Missing, 1)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2, result.Missing[0].Line)
	assert.Equal(t, 1, result.CriteriaInserted)
	assert.Equal(t, 1, result.CriteriaUpdated)

	first, second := result.Records[0], result.Records[1]
	assert.Equal(t, result.BatchID, first.BatchID)
	assert.Equal(t, result.BatchID, second.BatchID)
	assert.Equal(t, models.MethodCSV, first.EvaluationMethod)
	assert.Equal(t, 80.0, first.TotalScore)
	assert.Equal(t, "A", first.AssignedGrade)
	require.NotNil(t, first.CustomerID)
	assert.Equal(t, cust.ID, *first.CustomerID)
	assert.Nil(t, second.CustomerID)
	assert.Equal(t, 30.0, second.TotalScore)
	assert.Equal(t, models.Ungraded, second.AssignedGrade)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Grade)

	criteria, err := store.ListCriteria(ctx)
	require.NoError(t, err)
	assert.Len(t, criteria, 2)
	assert.Equal(t, 15.0, criteria[0].Score)

	n, err := e.DeleteBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEvaluateBatchRejectsBadParams(t *testing.T) {
	e := NewEvaluator(newStore(t), testRetry())
	_, err := e.EvaluateBatch(context.Background(), []Row{{}}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

type flakyStore struct {
	*sqlite.Client
	failNumber string
}

func (f *flakyStore) SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error {
	if r.SubjectNumber == f.failNumber {
		return errors.New("disk full")
	}
	return f.Client.SaveEvaluation(ctx, r)
}

func TestEvaluateBatchContinuesAfterRowFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Client: newStore(t), failNumber: "2"}
	e := NewEvaluator(store, testRetry())

	params := []ParameterConfig{{Name: "sales", Weight: 1, Kind: KindNumeric}}
	rows := []Row{
		{"Number": "1", "sales": "10"},
		{"Number": "2", "sales": "20"},
		{"Number": "3", "sales": "30"},
	}

	result, err := e.EvaluateBatch(ctx, rows, params, nil)
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "2", result.Failed[0].Number)
	assert.True(t, strings.Contains(result.Failed[0].Err, "disk full"))

	records, err := store.ListEvaluations(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestEditScoreRegrades(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cust := &models.Customer{Number: "5", Name: "Kiosk"}
	require.NoError(t, store.InsertCustomers(ctx, []*models.Customer{cust}))

	e := NewEvaluator(store, testRetry())
	params := []ParameterConfig{{Name: "s", Weight: 1, Kind: KindNumeric}}
	record, err := e.EvaluateSingle(ctx, cust.ID, Row{"s": "85"}, params)
	require.NoError(t, err)

	edited, err := e.EditScore(ctx, record.ID, 59.999)
	require.NoError(t, err)
	assert.Equal(t, 60.0, edited.TotalScore)
	assert.Equal(t, "B", edited.AssignedGrade)

	got, err := store.GetCustomer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Grade)

	edited, err = e.EditScore(ctx, record.ID, 59.995)
	require.NoError(t, err)
	assert.Equal(t, 59.99, edited.TotalScore)
	assert.Equal(t, "C", edited.AssignedGrade)

	_, err = e.EditScore(ctx, record.ID+100, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, e.DeleteRecord(ctx, record.ID))
	assert.ErrorIs(t, e.DeleteRecord(ctx, record.ID), storage.ErrNotFound)
}

func TestNewBatchID(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)
	a, b := NewBatchID(at), NewBatchID(at)
	assert.True(t, strings.HasPrefix(a, "20240301-102030-"))
	assert.NotEqual(t, a, b)
}

func TestEvaluateStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e := NewEvaluator(store, testRetry())

	shop := &models.Store{Name: "Main street"}
	require.NoError(t, store.CreateStore(ctx, shop))

	_, err := e.EvaluateStore(ctx, StoreInput{StoreID: shop.ID})
	assert.ErrorIs(t, err, ErrInvalidParams)

	clean := &models.EvaluationParameter{Name: "Cleanliness", Weight: 2}
	stock := &models.EvaluationParameter{Name: "Stock", Weight: 0.5}
	require.NoError(t, store.CreateParameter(ctx, clean))
	require.NoError(t, store.CreateParameter(ctx, stock))

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	_, err = e.EvaluateStore(ctx, StoreInput{StoreID: shop.ID, StartDate: &start, EndDate: &end})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = e.EvaluateStore(ctx, StoreInput{StoreID: shop.ID + 10})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	end = start.AddDate(0, 1, 0)
	eval, err := e.EvaluateStore(ctx, StoreInput{
		StoreID:   shop.ID,
		StartDate: &start,
		EndDate:   &end,
		Scores:    map[int64]string{clean.ID: "10", stock.ID: "79.99"},
	})
	require.NoError(t, err)
	// 2*10 + 0.5*79.99 lands on 59.99499..., just below the B threshold once rounded
	assert.Equal(t, 59.99, eval.TotalScore)
	assert.Equal(t, "C", eval.Category)
	require.Len(t, eval.Details, 2)
	assert.Equal(t, 0.5, eval.Details[1].Weight)

	blank, err := e.EvaluateStore(ctx, StoreInput{StoreID: shop.ID, Scores: map[int64]string{clean.ID: "45"}})
	require.NoError(t, err)
	assert.Equal(t, 90.0, blank.TotalScore)
	assert.Equal(t, "A", blank.Category)

	require.NoError(t, e.DeleteStoreEvaluation(ctx, eval.ID))
	assert.ErrorIs(t, e.DeleteStoreEvaluation(ctx, eval.ID), storage.ErrNotFound)
}
