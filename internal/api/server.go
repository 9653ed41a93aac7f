package api

import (
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fieldsales/backend/internal/api/handlers"
	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/evaluation"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/middleware/ratelimit"
	"github.com/fieldsales/backend/internal/middleware/security"
	"github.com/fieldsales/backend/internal/quota"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/internal/tracking"
	"github.com/fieldsales/backend/pkg/config"
	"github.com/fieldsales/backend/pkg/logger"
)

type Deps struct {
	Config    *config.Config
	DB        *sqlite.Client
	Auth      *auth.Service
	Evaluator *evaluation.Evaluator
	Quota     *quota.Service
	Processor *ingestion.Processor
	Stager    ingestion.Stager
	Hub       *tracking.Hub
	// RequestLog toggles the per-request access log.
	RequestLog bool
}

// Server is the HTTP surface. Stop releases the background limiter.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func New(deps Deps) *Server {
	cfg := deps.Config

	engine := html.New(cfg.Server.TemplatesDir, ".html")
	engine.AddFuncMap(templateFuncs())
	engine.Reload(cfg.Server.IsDevelopment)

	sessions := session.New(session.Config{
		Expiration:     time.Hour,
		KeyLookup:      "cookie:fieldsales_session",
		CookieHTTPOnly: true,
		CookieSecure:   cfg.Auth.CookieSecure,
		CookieSameSite: fiber.CookieSameSiteLaxMode,
	})
	view := handlers.NewView(flash.New(sessions))

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		Views:        engine,
		ErrorHandler: view.ErrorHandler,
	})

	app.Use(recover.New())
	if deps.RequestLog {
		app.Use(fiberlogger.New())
	}
	app.Use(requestMetrics())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.IsDevelopment}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Static("/static", cfg.Server.StaticDir)

	authH := handlers.NewAuthHandler(deps.Auth, view, cfg.Auth.CookieSecure)
	usersH := handlers.NewUsersHandler(deps.DB, view)
	routesH := handlers.NewRoutesHandler(deps.DB, view)
	docsH := handlers.NewDocumentHandler(deps.DB, deps.Processor, view)
	gradingH := handlers.NewGradingHandler(deps.DB, view)
	evalH := handlers.NewEvaluationHandler(deps.DB, deps.Evaluator, deps.Processor, deps.Stager, view)
	recordsH := handlers.NewQueryHandler(deps.DB, deps.Evaluator, view)
	quotaH := handlers.NewActionsHandler(deps.Quota, view)
	trackH := handlers.NewWebSocketHandler(deps.DB, deps.Hub, view)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.LoginPerMinute,
		Logger:               logger.Named("ratelimit"),
		OnLimit:              authH.LoginLimited,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/login", authH.LoginPage)
	app.Post("/login", limiter.Middleware(), authH.Login)
	app.Get("/logout", authH.Logout)

	authed := deps.Auth.Middleware()
	only := func(roles ...string) fiber.Handler {
		return auth.RequireRole(view.Denied, roles...)
	}

	app.Get("/", authed, authH.Home)

	admin := app.Group("/admin", authed, only(models.RoleAdmin))
	admin.Get("/", usersH.Dashboard)

	admin.Get("/users", usersH.List)
	admin.Post("/users", usersH.Create)
	admin.Get("/users/:id/edit", usersH.EditPage)
	admin.Post("/users/:id", usersH.Update)
	admin.Post("/users/:id/delete", usersH.Delete)

	admin.Get("/routes", routesH.List)
	admin.Post("/routes", routesH.Create)
	admin.Get("/routes/:id", routesH.Detail)
	admin.Post("/routes/:id/points", routesH.AddPoint)
	admin.Post("/routes/:id/points/:pointID/delete", routesH.DeletePoint)
	admin.Delete("/routes/:id/points/:pointID", routesH.DeletePoint)
	admin.Get("/stores", routesH.Stores)
	admin.Post("/stores", routesH.CreateStore)
	admin.Post("/stores/evaluations", evalH.EvaluateStore)
	admin.Post("/stores/evaluations/:id/delete", evalH.DeleteStoreEvaluation)

	admin.Get("/customers", docsH.Customers)
	admin.Post("/customers/import", docsH.ImportCustomers)
	admin.Get("/customers/:id/edit", docsH.EditCustomerPage)
	admin.Post("/customers/:id", docsH.UpdateCustomer)
	admin.Post("/customers/:id/delete", docsH.DeleteCustomer)
	admin.Get("/route-reports", docsH.RouteReports)
	admin.Post("/route-reports/import", docsH.ImportRouteReports)
	admin.Post("/route-reports/:id/delete", docsH.DeleteRouteReport)

	admin.Get("/grading", gradingH.Index)
	admin.Post("/grading/thresholds", gradingH.CreateThreshold)
	admin.Post("/grading/thresholds/:id", gradingH.UpdateThreshold)
	admin.Post("/grading/thresholds/:id/delete", gradingH.DeleteThreshold)
	admin.Post("/grading/criteria", gradingH.CreateCriterion)
	admin.Post("/grading/criteria/:id/delete", gradingH.DeleteCriterion)
	admin.Post("/grading/parameters", gradingH.CreateParameter)
	admin.Post("/grading/parameters/:id", gradingH.UpdateParameter)
	admin.Post("/grading/parameters/:id/delete", gradingH.DeleteParameter)

	admin.Get("/evaluations", recordsH.Records)
	admin.Get("/evaluations/manual", evalH.ManualPage)
	admin.Post("/evaluations/manual", evalH.ManualSubmit)
	admin.Get("/evaluations/batch", evalH.UploadPage)
	admin.Post("/evaluations/batch", evalH.Upload)
	admin.Get("/evaluations/batch/:key", evalH.ConfigurePage)
	admin.Post("/evaluations/batch/:key", evalH.Run)
	admin.Post("/evaluations/batches/:batch/delete", recordsH.DeleteBatch)
	admin.Post("/evaluations/:id", recordsH.EditScore)
	admin.Post("/evaluations/:id/delete", recordsH.DeleteRecord)

	admin.Get("/quota", quotaH.Index)
	admin.Post("/quota/capacity", quotaH.SetCapacity)
	admin.Post("/quota/weights", quotaH.SetWeights)
	admin.Post("/quota/weights/reset", quotaH.ResetWeights)
	admin.Post("/quota/categories", quotaH.CreateCategory)
	admin.Post("/quota/categories/:id/delete", quotaH.DeleteCategory)
	admin.Get("/quota/provinces/:id", quotaH.Allocation)

	adminAPI := app.Group("/api/admin", authed, only(models.RoleAdmin))
	adminAPI.Get("/customers/map", docsH.CustomerMap)
	adminAPI.Get("/quota/provinces/:id", quotaH.AllocationJSON)

	app.Get("/marketer", authed, only(models.RoleMarketer), trackH.MarketerPage)
	marketerAPI := app.Group("/api/marketer", authed, only(models.RoleMarketer))
	marketerAPI.Get("/routes", trackH.AssignedRoutes)
	marketerAPI.Post("/routes/:id/complete", trackH.CompleteRoute)
	marketerAPI.Post("/location", trackH.UpdateLocation)

	app.Get("/observer", authed, only(models.RoleObserver, models.RoleAdmin), trackH.ObserverPage)
	observerAPI := app.Group("/api/observer", authed, only(models.RoleObserver, models.RoleAdmin))
	observerAPI.Get("/marketer-locations", trackH.MarketerLocations)

	app.Get("/ws/locations", authed, only(models.RoleObserver, models.RoleAdmin),
		trackH.Upgrade, websocket.New(trackH.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Stop() {
	s.limiter.Stop()
}

func requestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		metrics.RequestDuration.WithLabelValues(c.Method(), strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"num": func(v float64) string {
			return strconv.FormatFloat(v, 'f', 2, 64)
		},
		"optnum": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return strconv.FormatFloat(*v, 'f', 2, 64)
		},
		"optval": func(v *float64) string {
			if v == nil {
				return ""
			}
			return strconv.FormatFloat(*v, 'f', -1, 64)
		},
		"pct": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return fmt.Sprintf("%.2f%%", *v*100)
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02 15:04")
		},
		"day": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"optint": func(v *int) string {
			if v == nil {
				return ""
			}
			return strconv.Itoa(*v)
		},
	}
}
