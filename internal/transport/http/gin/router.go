package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/venuepos/venuepos/internal/domain"
	"github.com/venuepos/venuepos/internal/repository"
	redisrepo "github.com/venuepos/venuepos/internal/repository/redis"
	"github.com/venuepos/venuepos/internal/service"
	"github.com/venuepos/venuepos/internal/service/catalog"
	"github.com/venuepos/venuepos/internal/service/flow"
	"github.com/venuepos/venuepos/internal/service/sessions"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Desk API: everything a cashdesk does during a shift. Requires the
	// session's API token.
	desk := r.Group("/", SessionAuth(svcs.Sessions))
	{
		desk.GET("/products", handleListProducts(svcs))
		desk.GET("/preorderpositions", handleSearchPreorders(svcs))

		desk.POST("/transactions", handleCheckout(svcs, idem))
		desk.GET("/transactions/:id", handleGetTransaction(svcs))
		desk.POST("/transactions/:id/reverse", handleReverseTransaction(svcs))
		desk.POST("/positions/:id/reverse", handleReversePosition(svcs))
	}

	// Backoffice API: session lifecycle and reporting.
	back := r.Group("/sessions")
	{
		back.POST("", handleOpenSession(svcs))
		back.GET("", handleListSessions(svcs))
		back.GET("/:id", handleGetSession(svcs))
		back.GET("/:id/report", handleSessionReport(svcs))
		back.POST("/:id/close", handleCloseSession(svcs))
		back.POST("/:id/corrections", handleCorrection(svcs))
		back.POST("/:id/reverse", handleReverseSession(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List sellable products with availability
// @Success  200  {array}  catalog.ProductView
// @Router   /products [get]
func handleListProducts(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := svcs.Catalog.Products(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s; quota movement must surface quickly
		writeJSONWithCache(c, http.StatusOK, products, "private, max-age=5", true)
	}
}

// @Summary  Search presale tickets by secret prefix
// @Param    search  query  string  true  "secret prefix, 6 chars minimum"
// @Success  200 {array}  PreorderSearchRow
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /preorderpositions [get]
func handleSearchPreorders(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("search"))
		results, err := svcs.Catalog.SearchPreorders(
			c.Request.Context(),
			query,
			"ip:"+c.ClientIP(),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toSearchRows(results))
	}
}

// @Summary  Record a transaction (idempotent)
// @Param    req body  CheckoutRequest true "payload"
// @Success  201 {object} CheckoutResponse
// @Failure  400 {object} CheckoutResponse "at least one position rejected"
// @Router   /transactions [post]
func handleCheckout(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFromContext(c)
		if sess == nil {
			return
		}
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemCheckout(sess.ID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		positions := make([]flow.PositionRequest, 0, len(req.Positions))
		for _, p := range req.Positions {
			positions = append(positions, flow.PositionRequest{
				Type:        p.Type,
				Secret:      p.Secret,
				ProductID:   p.ProductID,
				Auth:        p.Auth,
				BypassPrice: p.BypassPrice,
				Fields:      p.Fields,
			})
		}

		res, err := svcs.Flow.Checkout(c.Request.Context(), sess, flow.CheckoutRequest{
			CashGiven: req.CashGiven,
			Positions: positions,
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if errors.Is(err, flow.ErrRejected) {
				c.JSON(http.StatusBadRequest, toCheckoutResponse(res))
				return
			}
			respondErr(c, err)
			return
		}

		resp := toCheckoutResponse(res)

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get transaction with positions
// @Param    id  path  int  true  "Transaction ID"
// @Success  200 {object} flow.TransactionView
// @Router   /transactions/{id} [get]
func handleGetTransaction(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		view, err := svcs.Flow.Transaction(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// @Summary  Reverse a whole transaction
// @Param    id  path  int  true  "Transaction ID"
// @Param    req body  ReverseRequest false "optional troubleshooter token"
// @Success  201 {object} ReverseResponse
// @Router   /transactions/{id}/reverse [post]
func handleReverseTransaction(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFromContext(c)
		if sess == nil {
			return
		}
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		auth, ok := resolveAuth(c, svcs)
		if !ok {
			return
		}
		newID, err := svcs.Flow.ReverseTransaction(c.Request.Context(), sess, id, auth)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, ReverseResponse{TransactionID: newID})
	}
}

// @Summary  Reverse a single position
// @Param    id  path  int  true  "Position ID"
// @Param    req body  ReverseRequest false "optional troubleshooter token"
// @Success  201 {object} ReverseResponse
// @Router   /positions/{id}/reverse [post]
func handleReversePosition(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFromContext(c)
		if sess == nil {
			return
		}
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		auth, ok := resolveAuth(c, svcs)
		if !ok {
			return
		}
		newID, err := svcs.Flow.ReversePosition(c.Request.Context(), sess, id, auth)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, ReverseResponse{TransactionID: newID})
	}
}

// @Summary  Open a cashdesk session
// @Param    req body  OpenSessionRequest true "payload"
// @Success  201 {object} SessionResponse "includes the API token, shown only once"
// @Router   /sessions [post]
func handleOpenSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sess, err := svcs.Sessions.Open(c.Request.Context(), sessions.OpenRequest{
			CashdeskID:       req.CashdeskID,
			CashierID:        req.CashierID,
			BackofficeUserID: req.BackofficeUserID,
			CashBefore:       req.CashBefore,
			Items:            toItemAmounts(req.Items),
			Comment:          req.Comment,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toSessionResponse(sess, true))
	}
}

// @Summary  List sessions
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200 {array} SessionResponse
// @Router   /sessions [get]
func handleListSessions(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 50)
		offset := parseIntDefault(c.Query("offset"), 0)

		list, err := svcs.Sessions.List(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]SessionResponse, 0, len(list))
		for i := range list {
			out = append(out, toSessionResponse(&list[i], false))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get session
// @Param    id  path  int  true  "Session ID"
// @Success  200 {object} SessionResponse
// @Router   /sessions/{id} [get]
func handleGetSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		sess, err := svcs.Sessions.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toSessionResponse(sess, false))
	}
}

// @Summary  Session report (cash and item balances, sales breakdown)
// @Param    id  path  int  true  "Session ID"
// @Success  200 {object} sessions.Report
// @Router   /sessions/{id}/report [get]
func handleSessionReport(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		rep, err := svcs.Sessions.Report(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		rep.Session.APIToken = ""
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, rep, "private, max-age=15", true)
	}
}

// @Summary  Close a cashdesk session
// @Param    id  path  int  true  "Session ID"
// @Param    req body  CloseSessionRequest true "payload"
// @Success  204
// @Router   /sessions/{id}/close [post]
func handleCloseSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CloseSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		err := svcs.Sessions.Close(c.Request.Context(), sessions.CloseRequest{
			SessionID:        id,
			BackofficeUserID: req.BackofficeUserID,
			CashAfter:        req.CashAfter,
			Items:            toItemAmounts(req.Items),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Record a post-close item correction
// @Param    id  path  int  true  "Session ID"
// @Param    req body  CorrectionRequest true "payload"
// @Success  204
// @Router   /sessions/{id}/corrections [post]
func handleCorrection(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CorrectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		err := svcs.Sessions.Correct(c.Request.Context(), id, req.BackofficeUserID,
			sessions.ItemAmount{ItemID: req.ItemID, Amount: req.Amount})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Reverse every position of an active session
// @Param    id  path  int  true  "Session ID"
// @Success  201 {object} ReverseResponse
// @Router   /sessions/{id}/reverse [post]
func handleReverseSession(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		sess, err := svcs.Sessions.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		newID, err := svcs.Flow.ReverseSession(c.Request.Context(), sess)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, ReverseResponse{TransactionID: newID})
	}
}

// --- Helpers ---

func sessionFromContext(c *gin.Context) *domain.CashdeskSession {
	v, ok := c.Get(ctxKeySession)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "session required"})
		return nil
	}
	sess, ok := v.(*domain.CashdeskSession)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "session required"})
		return nil
	}
	return sess
}

func resolveAuth(c *gin.Context, svcs *service.Services) (*domain.User, bool) {
	var req ReverseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return nil, false
		}
	}
	if req.Auth == "" {
		return nil, true
	}
	user, err := svcs.Flow.ResolveAuth(c.Request.Context(), req.Auth)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "invalid troubleshooter token"})
			return nil, false
		}
		respondErr(c, err)
		return nil, false
	}
	return user, true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	if fe, ok := flow.AsFlowError(err); ok {
		c.JSON(http.StatusBadRequest, PositionResult{
			Message:      fe.Message,
			Type:         string(fe.Kind),
			MissingField: fe.MissingField,
			BypassPrice:  fe.BypassPrice,
		})
		return
	}

	switch {
	case errors.Is(err, flow.ErrEmptyTransaction):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "at least one position is required"})
		return
	case errors.Is(err, sessions.ErrSessionClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "session already closed"})
		return
	case errors.Is(err, sessions.ErrCashdeskInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "cashdesk is not active"})
		return
	case errors.Is(err, sessions.ErrNotBackoffice):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "backoffice permission required"})
		return
	case errors.Is(err, catalog.ErrQueryTooShort):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search requires at least 6 characters"})
		return
	case errors.Is(err, catalog.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
