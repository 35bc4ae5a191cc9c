package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/remu-backend/internal/handler"
	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/metrics"
	appmw "github.com/shinyyama/remu-backend/internal/middleware"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/reqctx"
	"github.com/shinyyama/remu-backend/internal/service"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Directory   repository.AccountDirectory
	Identity    identity.Provider
	Ledger      service.LedgerService
	Accounts    service.AccountService
	Products    service.ProductService
	ProductRepo repository.ProductRepository
	Log         logrus.FieldLogger
	SHA         string
	BuildTime   string
}

type Server struct {
	e           *echo.Echo
	productRepo repository.ProductRepository
}

func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, rid string) {
			req := c.Request()
			c.SetRequest(req.WithContext(reqctx.WithRID(req.Context(), rid)))
		},
	}))
	e.Use(requestLogger(d.Log))
	e.Use(metrics.Middleware)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin,
	}))

	authMw := appmw.NewAuthMiddleware(d.Identity, d.Directory)
	authHandler := handler.NewAuthHandler(d.Ledger, d.Identity)
	userHandler := handler.NewUserHandler(d.Accounts)
	adminHandler := handler.NewAdminHandler(d.Accounts, d.Ledger, d.Products)
	productHandler := handler.NewProductHandler(d.Products)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    d.SHA,
			"build_time": d.BuildTime,
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.POST("/auth/signup", authHandler.SignUp)
	api.POST("/auth/signin", authHandler.SignIn)
	api.POST("/auth/password-reset", authHandler.PasswordReset)

	api.GET("/me", userHandler.Me, authMw.RequireAuth)
	api.GET("/me/referrals", userHandler.Referrals, authMw.RequireAuth)
	api.GET("/users/:uid/public", userHandler.GetPublic)

	api.GET("/products", productHandler.List)
	api.GET("/products/:id", productHandler.Get)

	admin := api.Group("/admin", authMw.RequireAuth, authMw.RequireAdmin)
	admin.GET("/accounts", adminHandler.ListAccounts)
	admin.GET("/stats", adminHandler.Stats)
	admin.PUT("/accounts/:id/admin", adminHandler.SetAdmin)
	admin.POST("/accounts/:id/points", adminHandler.AdjustPoints)
	admin.DELETE("/accounts/:id", adminHandler.DeleteAccount)
	admin.GET("/products/analytics", adminHandler.ProductAnalytics)
	admin.POST("/products", productHandler.Create)
	admin.PUT("/products/:id", productHandler.Update)
	admin.DELETE("/products/:id", productHandler.Delete)

	return &Server{e: e, productRepo: d.ProductRepo}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// SetDB hands the product catalog its connection once MySQL is reachable.
func (s *Server) SetDB(db *gorm.DB) {
	if s.productRepo != nil {
		s.productRepo.SetDB(db)
	}
}

func allowOrigin(origin string) (bool, error) {
	low := strings.ToLower(origin)
	if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
		strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
		return true, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false, nil
	}
	if u.Scheme != "https" {
		return false, nil
	}
	host := u.Hostname()
	return host == "remu.com" || strings.HasSuffix(host, ".remu.com") || strings.HasSuffix(host, ".vercel.app"), nil
}

func requestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"rid":        v.RequestID,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			if uid := appmw.UID(c); uid != "" {
				entry = entry.WithField("uid", uid)
			}
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Error("request failed")
			case v.Status >= http.StatusInternalServerError:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		},
	})
}
