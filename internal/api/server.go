package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payplanhq/payplan/internal/config"
	"github.com/payplanhq/payplan/internal/engine"
	"github.com/payplanhq/payplan/internal/matcher"
	"github.com/payplanhq/payplan/internal/storage"
)

// Server is the HTTP surface over the engine and matcher. It only translates
// requests into intents and state into JSON; all business rules live below.
type Server struct {
	cfg     *config.Config
	store   *storage.Storage
	engine  *engine.Engine
	matcher *matcher.Matcher
	log     *slog.Logger

	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, store *storage.Storage, eng *engine.Engine, m *matcher.Matcher, log *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		matcher: m,
		log:     log,
	}
}

// Router builds the gin router; exposed separately so tests can drive it
// without a listener
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/auth/login", s.handleLogin)

	// Participant surface
	router.GET("/accounts/:id", s.handleGetAccount)
	router.GET("/accounts/:id/payments", s.handleListPayments)
	router.GET("/accounts/:id/pairs", s.handleListPairs)
	router.GET("/accounts/:id/notifications", s.handleListNotifications)
	router.POST("/accounts/:id/notifications/read", s.handleMarkNotificationsRead)
	router.GET("/accounts/:id/transactions", s.handleListTransactions)
	router.POST("/payments/:id/submit", s.handleSubmit)
	router.POST("/payments/:id/verify", s.handleVerify)
	router.GET("/queue", s.handleListQueue)

	// Admin surface
	admin := router.Group("/admin", AuthMiddleware([]byte(s.cfg.JWTSecret)))
	admin.POST("/accounts", s.handleOnboard)
	admin.POST("/accounts/:id/qualified", s.handleSetQualified)
	admin.POST("/accounts/:id/credit", s.handleCreditIncome)
	admin.GET("/confirmations", s.handleListConfirmations)
	admin.POST("/confirmations/:id/confirm", s.handleConfirm)
	admin.POST("/confirmations/:id/reject", s.handleReject)
	admin.GET("/disputes", s.handleListDisputes)
	admin.POST("/disputes/:id/resolve", s.handleResolveDispute)
	admin.POST("/queue/run", s.handleRunQueue)
	admin.GET("/settings", s.handleGetSettings)
	admin.PUT("/settings", s.handleSaveSettings)

	return router
}

// Start serves the API until the context is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.cfg.AdminPassword == "" ||
		req.Username != s.cfg.AdminUser || req.Password != s.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := IssueToken([]byte(s.cfg.JWTSecret), req.Username, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// --- Accounts ---

func (s *Server) handleOnboard(c *gin.Context) {
	var req struct {
		DisplayName    string `json:"display_name" binding:"required"`
		WalletAddr     string `json:"wallet_addr"`
		TelegramChatID int64  `json:"telegram_chat_id"`
		Receivers      map[string]struct {
			ID     int64  `json:"id"`
			Name   string `json:"name"`
			Wallet string `json:"wallet"`
		} `json:"receivers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receivers := make(map[storage.PaymentType]engine.Receiver, len(req.Receivers))
	for slot, r := range req.Receivers {
		receivers[storage.PaymentType(slot)] = engine.Receiver{ID: r.ID, Name: r.Name, Wallet: r.Wallet}
	}

	account, err := s.engine.Onboard(c.Request.Context(), req.DisplayName, req.WalletAddr, req.TelegramChatID, receivers)
	if err != nil {
		s.renderError(c, err)
		return
	}

	if _, err := s.matcher.Enqueue(c.Request.Context(), account); err != nil {
		s.log.Error("enqueue new account", "account_id", account.ID, "error", err)
	}

	c.JSON(http.StatusCreated, account)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	account, err := s.store.GetAccount(id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (s *Server) handleSetQualified(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var req struct {
		Qualified *bool `json:"qualified" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.matcher.SetQualified(c.Request.Context(), id, *req.Qualified); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"qualified": *req.Qualified})
}

func (s *Server) handleCreditIncome(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var req struct {
		Amount float64 `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, err := s.matcher.CreditBinaryIncome(c.Request.Context(), id, req.Amount)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pair)
}

// --- Payments ---

func (s *Server) handleListPayments(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	payments, err := s.store.ListPayments(id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req struct {
		SenderName    string `json:"sender_name" binding:"required"`
		TransactionID string `json:"transaction_id" binding:"required"`
		Proof         string `json:"proof" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confirmation, err := s.engine.Submit(c.Request.Context(), c.Param("id"),
		req.SenderName, req.TransactionID, req.Proof)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, confirmation)
}

func (s *Server) handleVerify(c *gin.Context) {
	var req struct {
		TransactionID string `json:"transaction_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	paymentID := c.Param("id")
	if _, err := s.store.GetPayment(paymentID); err != nil {
		s.renderError(c, err)
		return
	}

	// Verification waits out the chain settle delay, so it runs detached
	// from the request. Outcome lands in the notification feed.
	go func() {
		if err := s.engine.AutoVerify(context.Background(), paymentID, req.TransactionID); err != nil {
			s.log.Warn("auto-verify", "payment_id", paymentID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": storage.StatusVerifying})
}

// --- Confirmations & disputes ---

func (s *Server) handleListConfirmations(c *gin.Context) {
	confirmations, err := s.store.ListConfirmations()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmations)
}

func (s *Server) handleConfirm(c *gin.Context) {
	if err := s.engine.Confirm(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": storage.StatusConfirmed})
}

func (s *Server) handleReject(c *gin.Context) {
	if err := s.engine.Reject(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": storage.StatusUnpaid})
}

func (s *Server) handleListDisputes(c *gin.Context) {
	disputes, err := s.store.ListOpenDisputes()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

func (s *Server) handleResolveDispute(c *gin.Context) {
	var req struct {
		Winner string `json:"winner" binding:"required,oneof=sender receiver"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.engine.ResolveDispute(c.Request.Context(), c.Param("id"), req.Winner == "sender")
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"winner": req.Winner})
}

// --- Queue & pairs ---

func (s *Server) handleListQueue(c *gin.Context) {
	entrants, err := s.store.ListQueue()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, entrants)
}

func (s *Server) handleRunQueue(c *gin.Context) {
	result, err := s.matcher.ProcessQueue(c.Request.Context())
	if errors.Is(err, matcher.ErrNoQualified) {
		c.JSON(http.StatusOK, gin.H{"matched": false, "reason": "no qualified entrants"})
		return
	}
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"matched": true, "result": result})
}

func (s *Server) handleListPairs(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	pairs, err := s.store.ListPairs(id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, pairs)
}

// --- Feeds ---

func (s *Server) handleListNotifications(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	notifications, err := s.store.ListNotifications(id, queryLimit(c))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (s *Server) handleMarkNotificationsRead(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	if err := s.store.MarkNotificationsRead(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTransactions(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	transactions, err := s.store.ListTransactions(id, queryLimit(c))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactions)
}

// --- Settings ---

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.GetSettings()
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(c *gin.Context) {
	var req struct {
		ReferralAmount           float64 `json:"referral_amount" binding:"required,gt=0"`
		BinaryAmount             float64 `json:"binary_amount" binding:"required,gt=0"`
		UplineAmount             float64 `json:"upline_amount" binding:"required,gt=0"`
		AdminFeeAmount           float64 `json:"admin_fee_amount" binding:"required,gt=0"`
		PaymentTimerHours        int     `json:"payment_timer_hours" binding:"required,gt=0"`
		EnableCryptoVerification bool    `json:"enable_crypto_verification"`
		ServiceWalletAddr        string  `json:"service_wallet_addr"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := &storage.Settings{
		ReferralAmount:           req.ReferralAmount,
		BinaryAmount:             req.BinaryAmount,
		UplineAmount:             req.UplineAmount,
		AdminFeeAmount:           req.AdminFeeAmount,
		PaymentTimerHours:        req.PaymentTimerHours,
		EnableCryptoVerification: req.EnableCryptoVerification,
		ServiceWalletAddr:        req.ServiceWalletAddr,
	}
	if err := s.store.SaveSettings(settings); err != nil {
		s.renderError(c, err)
		return
	}

	s.log.Info("settings saved", "by", c.GetString("user"))
	c.JSON(http.StatusOK, settings)
}

// --- Helpers ---

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, engine.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrCryptoNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func paramID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func queryLimit(c *gin.Context) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return 50
}
