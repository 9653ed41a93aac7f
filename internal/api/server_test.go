package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/quota"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/internal/tracking"
	"github.com/fieldsales/backend/pkg/config"
	"github.com/fieldsales/backend/pkg/retry"
)

type testEnv struct {
	server *Server
	db     *sqlite.Client
	auth   *auth.Service
	quota  *quota.Service
	hub    *tracking.Hub
}

func newTestEnv(t *testing.T, loginPerMinute int) *testEnv {
	t.Helper()
	auth.BcryptCost = bcrypt.MinCost
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(ctx))

	cfg := &config.Config{
		Server: config.ServerConfig{
			BodyLimit:    4 * 1024 * 1024,
			TemplatesDir: "../../web/templates",
			StaticDir:    "../../web/static",
		},
		Auth:      config.AuthConfig{JWTSecret: "test-secret", TokenTTLMin: 60},
		Grading:   config.GradingConfig{UngradedWeight: 0.5},
		Upload:    config.UploadConfig{MaxRows: 1000},
		RateLimit: config.RateLimitConfig{LoginPerMinute: loginPerMinute},
	}

	authService := auth.NewService(db, cfg.Auth.JWTSecret, time.Hour)
	_, err = authService.EnsureAdmin(ctx, "adminpassword")
	require.NoError(t, err)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 1
	hub := tracking.NewHub(8)
	go hub.Run(ctx)

	quotaService := quota.NewService(db, cfg.Grading.UngradedWeight)
	server := New(Deps{
		Config:    cfg,
		DB:        db,
		Auth:      authService,
		Evaluator: evaluation.NewEvaluator(db, retryCfg),
		Quota:     quotaService,
		Processor: ingestion.NewProcessor(db, cfg.Upload.MaxRows),
		Stager:    ingestion.NewMemoryStager(time.Hour),
		Hub:       hub,
	})
	t.Cleanup(server.Stop)

	return &testEnv{server: server, db: db, auth: authService, quota: quotaService, hub: hub}
}

func (e *testEnv) addUser(t *testing.T, username, password, role string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &models.User{Username: username, PasswordHash: hash, Role: role, IsActive: true}
	require.NoError(t, e.db.CreateUser(context.Background(), u))
	return u
}

// browser keeps cookies between requests the way a real client would.
type browser struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]string
}

func (e *testEnv) browser(t *testing.T) *browser {
	return &browser{t: t, env: e, cookies: make(map[string]string)}
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	resp, err := b.env.server.App.Test(req, -1)
	require.NoError(b.t, err)

	for _, ck := range resp.Cookies() {
		if ck.Value == "" || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now())) {
			delete(b.cookies, ck.Name)
			continue
		}
		b.cookies[ck.Name] = ck.Value
	}
	return resp
}

func (b *browser) get(path string) *http.Response {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, body interface{}) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(b.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func (b *browser) upload(path, filename, content string) *http.Response {
	b.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(b.t, err)
	_, err = io.WriteString(part, content)
	require.NoError(b.t, err)
	require.NoError(b.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return b.do(req)
}

// follow reads the redirect target and returns the rendered page.
func (b *browser) follow(resp *http.Response) *goquery.Document {
	b.t.Helper()
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	return b.page(b.get(resp.Header.Get("Location")))
}

func (b *browser) page(resp *http.Response) *goquery.Document {
	b.t.Helper()
	defer resp.Body.Close()
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(b.t, err)
	return doc
}

func (b *browser) login(username, password string) *http.Response {
	return b.post("/login", url.Values{"username": {username}, "password": {password}})
}

func flashes(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(".flash").Text())
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)

	resp := b.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = b.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "fieldsales_")
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)

	resp := b.get("/admin")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	doc := b.follow(b.login("admin", "wrong"))
	assert.Contains(t, flashes(doc), "Invalid username or password")
	assert.Equal(t, 1, doc.Find("#login-form").Length())

	resp = b.login("admin", "adminpassword")
	assert.Equal(t, "/admin", resp.Header.Get("Location"))
	assert.NotEmpty(t, b.cookies[auth.CookieName])

	doc = b.follow(resp)
	assert.Contains(t, flashes(doc), "Welcome")

	doc = b.follow(b.get("/logout"))
	assert.Contains(t, flashes(doc), "signed out")
	assert.Empty(t, b.cookies[auth.CookieName])

	resp = b.get("/admin")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLoginIsRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)
	b := env.browser(t)

	b.login("admin", "wrong")
	b.login("admin", "wrong")
	resp := b.login("admin", "adminpassword")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, flashes(doc), "Too many sign-in attempts")
}

func TestRoleRouting(t *testing.T) {
	env := newTestEnv(t, 100)
	env.addUser(t, "mara", "secret1", models.RoleMarketer)
	env.addUser(t, "olga", "secret1", models.RoleObserver)

	marketer := env.browser(t)
	assert.Equal(t, "/marketer", marketer.login("mara", "secret1").Header.Get("Location"))
	marketer.page(marketer.get("/marketer"))

	resp := marketer.get("/admin/users")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp = marketer.get("/api/admin/customers/map")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = marketer.get("/api/observer/marketer-locations")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	observer := env.browser(t)
	assert.Equal(t, "/observer", observer.login("olga", "secret1").Header.Get("Location"))
	observer.page(observer.get("/observer"))

	resp = observer.get("/api/marketer/routes")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	anonymous := env.browser(t)
	resp = anonymous.get("/api/marketer/routes")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminManagesUsers(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/users", url.Values{
		"username":  {"mina"},
		"email":     {"mina@example.com"},
		"full_name": {"Mina R"},
		"role":      {models.RoleMarketer},
		"password":  {"secret1"},
	}))
	assert.Contains(t, flashes(doc), "User mina created")
	assert.Equal(t, 1, doc.Find(`#users tr[data-username="mina"]`).Length())

	doc = b.follow(b.post("/admin/users", url.Values{
		"username": {"mina"},
		"role":     {models.RoleMarketer},
		"password": {"secret1"},
	}))
	assert.Contains(t, flashes(doc), "already in use")

	doc = b.follow(b.post("/admin/users", url.Values{
		"username": {"x"},
		"role":     {"guest"},
		"password": {"secret1"},
	}))
	assert.Contains(t, flashes(doc), "role")

	admin, err := env.db.GetUserByUsername(context.Background(), auth.AdminUsername)
	require.NoError(t, err)
	doc = b.follow(b.post("/admin/users/"+itoa(admin.ID)+"/delete", nil))
	assert.Contains(t, flashes(doc), "cannot be deleted")

	doc = b.follow(b.post("/admin/users/"+itoa(admin.ID), url.Values{
		"username":  {"admin"},
		"role":      {models.RoleObserver},
		"is_active": {"on"},
	}))
	assert.Contains(t, flashes(doc), "must stay an active admin")

	mina, err := env.db.GetUserByUsername(context.Background(), "mina")
	require.NoError(t, err)
	doc = b.follow(b.post("/admin/users/"+itoa(mina.ID)+"/delete", nil))
	assert.Contains(t, flashes(doc), "User mina deleted")
	assert.Equal(t, 0, doc.Find(`#users tr[data-username="mina"]`).Length())
}

func TestGradingThresholds(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/grading/thresholds", url.Values{"grade_letter": {"A"}, "min_score": {"80"}}))
	assert.Equal(t, 1, doc.Find(`#thresholds tr[data-grade="A"]`).Length())

	doc = b.follow(b.post("/admin/grading/thresholds", url.Values{"grade_letter": {"A"}, "min_score": {"70"}}))
	assert.Contains(t, flashes(doc), "already exists")
	assert.Equal(t, 1, doc.Find(`#thresholds tr[data-grade="A"]`).Length())

	doc = b.follow(b.post("/admin/grading/thresholds", url.Values{"grade_letter": {"B"}, "min_score": {"lots"}}))
	assert.Equal(t, 0, doc.Find(`#thresholds tr[data-grade="B"]`).Length())
}

func manualForm(customerID int64, weights, scores map[string]string) url.Values {
	form := url.Values{"customer_id": {itoa(customerID)}}
	for _, f := range evaluation.ManualFields {
		w, ok := weights[f.Key]
		if !ok {
			w = "0"
		}
		sc, ok := scores[f.Key]
		if !ok {
			sc = "0"
		}
		form.Set(f.Key+"_weight", w)
		form.Set(f.Key+"_score", sc)
	}
	return form
}

func TestManualEvaluation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100)
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "A", MinScore: 80}))
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "B", MinScore: 50}))
	require.NoError(t, env.db.CreateParameter(ctx, &models.EvaluationParameter{Name: "sales_volume", Weight: 2}))
	customer := &models.Customer{Number: "M1", Name: "Corner shop"}
	require.NoError(t, env.db.InsertCustomers(ctx, []*models.Customer{customer}))

	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.page(b.get("/admin/evaluations/manual"))
	assert.Equal(t, "2", doc.Find(`input[name="sales_volume_weight"]`).AttrOr("value", ""))
	assert.Equal(t, "1", doc.Find(`input[name="brand_weight"]`).AttrOr("value", ""))
	assert.Equal(t, 1, doc.Find(`tr[data-field="ownership_goodwill"]`).Length())

	doc = b.follow(b.post("/admin/evaluations/manual",
		manualForm(customer.ID, map[string]string{"sales_volume": "abc"}, nil)))
	assert.Contains(t, flashes(doc), "sales_volume_weight: must be a valid numeric value")

	doc = b.follow(b.post("/admin/evaluations/manual",
		manualForm(customer.ID, nil, map[string]string{"brand": ""})))
	assert.Contains(t, flashes(doc), "brand_score: is a required field")

	doc = b.follow(b.post("/admin/evaluations/manual",
		manualForm(0, nil, nil)))
	assert.Contains(t, flashes(doc), "Choose a customer")

	// 49.995 is stored just below the half and rounds down under the B threshold
	doc = b.follow(b.post("/admin/evaluations/manual",
		manualForm(customer.ID, map[string]string{"sales_volume": "1"}, map[string]string{"sales_volume": "49.995"})))
	assert.Contains(t, flashes(doc), "scored 49.99 (grade ungraded)")
}

func TestEvaluationParameters(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/grading/parameters", url.Values{"name": {"Sales"}, "weight": {"3"}}))
	assert.Contains(t, flashes(doc), "Parameter Sales added")
	assert.Equal(t, 1, doc.Find(`#parameters tr[data-parameter="Sales"]`).Length())

	doc = b.follow(b.post("/admin/grading/parameters", url.Values{"name": {"Sales"}}))
	assert.Contains(t, flashes(doc), "already exists")

	doc = b.follow(b.post("/admin/grading/parameters", url.Values{"name": {"Visits"}}))
	assert.Equal(t, "1", doc.Find(`#parameters tr[data-parameter="Visits"] input[name="weight"]`).AttrOr("value", ""))

	doc = b.follow(b.post("/admin/grading/parameters", url.Values{"name": {"Debt"}, "weight": {"-1"}}))
	assert.Contains(t, flashes(doc), "weight")
	assert.Equal(t, 0, doc.Find(`#parameters tr[data-parameter="Debt"]`).Length())

	params, err := env.db.ListParameters(context.Background())
	require.NoError(t, err)
	require.Len(t, params, 2)
	sales := params[0]

	doc = b.follow(b.post("/admin/grading/parameters/"+itoa(sales.ID), url.Values{"weight": {"4.5"}}))
	assert.Contains(t, flashes(doc), "weight updated")

	// stored weights pre-fill the batch column form, matched by column name
	resp := b.upload("/admin/evaluations/batch", "batch.csv", "Number,Name,sales,Region\nC1,Alpha,80,North\n")
	doc = b.page(b.get(resp.Header.Get("Location")))
	assert.Equal(t, "4.5", doc.Find(`input[name="weight_0"]`).AttrOr("value", ""))
	assert.Equal(t, "1", doc.Find(`input[name="weight_1"]`).AttrOr("value", ""))

	doc = b.follow(b.post("/admin/grading/parameters/"+itoa(sales.ID)+"/delete", nil))
	assert.Equal(t, 0, doc.Find(`#parameters tr[data-parameter="Sales"]`).Length())
}

func TestStoreEvaluation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100)
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "A", MinScore: 80}))
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "B", MinScore: 50}))

	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/stores", url.Values{"name": {"Main street"}}))
	assert.Equal(t, 0, doc.Find("#evaluate-store").Length())

	cleanliness := &models.EvaluationParameter{Name: "Cleanliness", Weight: 2}
	stock := &models.EvaluationParameter{Name: "Stock", Weight: 0.5}
	require.NoError(t, env.db.CreateParameter(ctx, cleanliness))
	require.NoError(t, env.db.CreateParameter(ctx, stock))

	stores, err := env.db.ListStores(ctx)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	storeID := itoa(stores[0].ID)

	doc = b.page(b.get("/admin/stores"))
	assert.Equal(t, 1, doc.Find(`#evaluate-store input[name="score_`+itoa(stock.ID)+`"]`).Length())

	form := url.Values{
		"store_id":   {storeID},
		"start_date": {"2026-03-01"},
		"end_date":   {"2026-03-31"},
	}
	form.Set("score_"+itoa(cleanliness.ID), "30")
	form.Set("score_"+itoa(stock.ID), "40")
	doc = b.follow(b.post("/admin/stores/evaluations", form))
	assert.Contains(t, flashes(doc), "Main street scored 80.00 (grade A)")
	row := doc.Find("#store-evaluations tr[data-evaluation]")
	require.Equal(t, 1, row.Length())
	assert.Contains(t, row.Text(), "2026-03-01")
	assert.Contains(t, row.Text(), "Cleanliness")

	form.Set("end_date", "2026-02-01")
	doc = b.follow(b.post("/admin/stores/evaluations", form))
	assert.Contains(t, flashes(doc), "end date is before start date")

	form.Set("end_date", "2026-13-01")
	doc = b.follow(b.post("/admin/stores/evaluations", form))
	assert.Contains(t, flashes(doc), "end_date")

	form.Set("end_date", "")
	form.Set("score_"+itoa(stock.ID), "plenty")
	doc = b.follow(b.post("/admin/stores/evaluations", form))
	assert.Contains(t, flashes(doc), "Stock: score_"+itoa(stock.ID))

	form.Set("score_"+itoa(stock.ID), "")
	form.Set("store_id", "9999")
	doc = b.follow(b.post("/admin/stores/evaluations", form))
	assert.Contains(t, flashes(doc), "does not exist")

	evals, err := env.db.ListStoreEvaluations(ctx)
	require.NoError(t, err)
	require.Len(t, evals, 1)

	doc = b.follow(b.post("/admin/stores/evaluations/"+itoa(evals[0].ID)+"/delete", nil))
	assert.Contains(t, flashes(doc), "deleted")
	assert.Equal(t, 0, doc.Find("#store-evaluations tr[data-evaluation]").Length())
}

func TestBatchEvaluation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100)
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "A", MinScore: 50}))
	require.NoError(t, env.db.InsertCustomers(ctx, []*models.Customer{{Number: "C1", Name: "Alpha", Province: "Tehran"}}))

	b := env.browser(t)
	b.login("admin", "adminpassword")

	resp := b.upload("/admin/evaluations/batch", "batch.csv",
		"Number,Name,Sales,Region\nC1,Alpha,80,North\nC2,Beta,,South\n")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	configure := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(configure, "/admin/evaluations/batch/"))

	doc := b.page(b.get(configure))
	assert.Equal(t, 1, doc.Find(`input[name="weight_0"]`).Length())
	assert.Equal(t, 1, doc.Find(`input[name="weight_1"]`).Length())

	doc = b.page(b.post(configure, url.Values{
		"use_0":      {"on"},
		"weight_0":   {"1"},
		"kind_0":     {"numeric"},
		"required_0": {"on"},
	}))
	assert.Equal(t, "1", doc.Find("#created-count").Text())
	assert.Equal(t, "1", doc.Find("#missing-count").Text())
	assert.Equal(t, "0", doc.Find("#failed-count").Text())

	customer, err := env.db.FindCustomerByNumber(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "A", customer.Grade)

	// The staged upload is discarded once it has been evaluated.
	doc = b.follow(b.get(configure))
	assert.Contains(t, flashes(doc), "expired")

	records, err := env.db.ListEvaluations(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 1)

	doc = b.follow(b.post("/admin/evaluations/"+itoa(records[0].ID), url.Values{"total_score": {"20"}}))
	assert.Equal(t, 1, doc.Find(`#records tr[data-record="`+itoa(records[0].ID)+`"]`).Length())

	customer, err = env.db.FindCustomerByNumber(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.Ungraded, customer.Grade)
}

func TestBatchRejectsUnselectedOverride(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)
	b.login("admin", "adminpassword")

	resp := b.upload("/admin/evaluations/batch", "batch.csv", "Number,Name,Status\nC1,Alpha,good\n")
	configure := resp.Header.Get("Location")

	doc := b.follow(b.post(configure, url.Values{
		"use_0":              {"on"},
		"weight_0":           {"1"},
		"kind_0":             {"numeric"},
		"override_parameter": {"Status"},
		"override_criterion": {"good"},
		"override_score":     {"10"},
	}))
	assert.Contains(t, flashes(doc), "not selected as descriptive")
}

func TestQuotaAllocation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100)
	require.NoError(t, env.db.CreateThreshold(ctx, &models.GradeThreshold{GradeLetter: "A", MinScore: 80}))
	_, err := env.quota.SeedProvinces(ctx, []models.Province{
		{Name: "Tehran", Population: 300},
		{Name: "Fars", Population: 100},
	})
	require.NoError(t, err)
	require.NoError(t, env.db.InsertCustomers(ctx, []*models.Customer{
		{Number: "T1", Name: "One", Province: "Tehran"},
		{Number: "T2", Name: "Two", Province: "Tehran"},
	}))
	t1, err := env.db.FindCustomerByNumber(ctx, "T1")
	require.NoError(t, err)
	require.NoError(t, env.db.SetCustomerGrade(ctx, t1.ID, "A"))

	var tehranID int64
	provinces, err := env.quota.Provinces(ctx)
	require.NoError(t, err)
	for _, p := range provinces {
		if p.Name == "Tehran" {
			tehranID = p.ID
		}
	}
	require.NotZero(t, tehranID)

	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/quota/capacity", url.Values{"liter_capacity": {"-5"}}))
	assert.NotEmpty(t, flashes(doc))

	doc = b.follow(b.post("/admin/quota/capacity", url.Values{"liter_capacity": {"1000"}}))
	assert.Contains(t, flashes(doc), "2 provinces")
	assert.Equal(t, 1, doc.Find(`#targets tr[data-province="Tehran"]`).Length())

	var alloc struct {
		LiterCapacity  *float64 `json:"liter_capacity"`
		ShrinkCapacity *float64 `json:"shrink_capacity"`
		TotalCustomers int      `json:"total_customers"`
		Grades         []struct {
			Grade             string   `json:"grade"`
			Count             int      `json:"count"`
			LitersPerCustomer *float64 `json:"liters_per_customer"`
			ShrinkPerCustomer *float64 `json:"shrink_per_customer"`
		} `json:"grades"`
	}
	decode(t, b.get("/api/admin/quota/provinces/"+itoa(tehranID)), &alloc)

	require.NotNil(t, alloc.LiterCapacity)
	assert.InDelta(t, 750, *alloc.LiterCapacity, 1e-9)
	assert.Nil(t, alloc.ShrinkCapacity)
	assert.Equal(t, 2, alloc.TotalCustomers)

	perGrade := make(map[string]*float64)
	for _, g := range alloc.Grades {
		perGrade[g.Grade] = g.LitersPerCustomer
		assert.Nil(t, g.ShrinkPerCustomer)
	}
	require.NotNil(t, perGrade["A"])
	require.NotNil(t, perGrade[models.Ungraded])
	assert.InDelta(t, 750*0.8/1.3, *perGrade["A"], 1e-9)
	assert.InDelta(t, 750*0.5/1.3, *perGrade[models.Ungraded], 1e-9)

	doc = b.page(b.get("/admin/quota/provinces/" + itoa(tehranID)))
	assert.Equal(t, 1, doc.Find(`#allocation tr[data-grade="A"]`).Length())

	doc = b.follow(b.post("/admin/quota/weights", url.Values{"weight_A": {"1.3"}}))
	assert.Contains(t, flashes(doc), "saved")
	decode(t, b.get("/api/admin/quota/provinces/"+itoa(tehranID)), &alloc)
	for _, g := range alloc.Grades {
		if g.Grade == "A" {
			assert.InDelta(t, 750*1.3/1.8, *g.LitersPerCustomer, 1e-9)
		}
	}

	resp := b.get("/api/admin/quota/provinces/9999")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuotaCategories(t *testing.T) {
	env := newTestEnv(t, 100)
	b := env.browser(t)
	b.login("admin", "adminpassword")

	doc := b.follow(b.post("/admin/quota/categories", url.Values{"category": {"Dairy"}, "monthly_quota": {"120"}}))
	assert.Contains(t, flashes(doc), "Category Dairy added")
	row := doc.Find(`#categories tr[data-category="Dairy"]`)
	require.Equal(t, 1, row.Length())
	assert.Contains(t, row.Text(), "120")

	doc = b.follow(b.post("/admin/quota/categories", url.Values{"category": {"Dairy"}, "monthly_quota": {"90"}}))
	assert.Contains(t, flashes(doc), "already exists")

	doc = b.follow(b.post("/admin/quota/categories", url.Values{"category": {"Juice"}, "monthly_quota": {"0"}}))
	assert.Contains(t, flashes(doc), "monthly_quota")
	assert.Equal(t, 0, doc.Find(`#categories tr[data-category="Juice"]`).Length())

	categories, err := env.quota.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)

	doc = b.follow(b.post("/admin/quota/categories/"+itoa(categories[0].ID)+"/delete", nil))
	assert.Contains(t, flashes(doc), "Category deleted")
	assert.Equal(t, 0, doc.Find(`#categories tr[data-category="Dairy"]`).Length())

	resp := b.post("/admin/quota/categories/9999/delete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarketerTracking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100)
	mara := env.addUser(t, "mara", "secret1", models.RoleMarketer)
	env.addUser(t, "olga", "secret1", models.RoleObserver)

	route := &models.Route{Name: "North loop", IsActive: true, MarketerIDs: []int64{mara.ID}}
	require.NoError(t, env.db.CreateRoute(ctx, route))
	require.NoError(t, env.db.AddRoutePoint(ctx, &models.RoutePoint{RouteID: route.ID, Name: "Depot", Latitude: 35.7, Longitude: 51.4, Order: 1}))

	updates, unsubscribe := env.hub.Subscribe(ctx)
	defer unsubscribe()

	marketer := env.browser(t)
	marketer.login("mara", "secret1")

	var routes []struct {
		ID        int64 `json:"id"`
		Completed bool  `json:"completed"`
		Points    []struct {
			Name  string `json:"name"`
			Order int    `json:"order"`
		} `json:"points"`
	}
	decode(t, marketer.get("/api/marketer/routes"), &routes)
	require.Len(t, routes, 1)
	assert.False(t, routes[0].Completed)
	require.Len(t, routes[0].Points, 1)
	assert.Equal(t, "Depot", routes[0].Points[0].Name)

	resp := marketer.post("/api/marketer/routes/"+itoa(route.ID)+"/complete", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = marketer.post("/api/marketer/routes/9999/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = marketer.postJSON("/api/marketer/location", map[string]float64{"latitude": 120, "longitude": 51})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = marketer.postJSON("/api/marketer/location", map[string]float64{"latitude": 35.71, "longitude": 51.41})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case loc := <-updates:
		assert.Equal(t, mara.ID, loc.ID)
		assert.InDelta(t, 35.71, loc.Lat, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("location update was not broadcast")
	}

	observer := env.browser(t)
	observer.login("olga", "secret1")

	var locations []tracking.Location
	decode(t, observer.get("/api/observer/marketer-locations"), &locations)
	require.Len(t, locations, 1)
	assert.Equal(t, "mara", locations[0].Name)
	assert.InDelta(t, 51.41, locations[0].Lng, 1e-9)

	resp = observer.get("/ws/locations")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
