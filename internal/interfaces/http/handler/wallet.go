package handler

import (
	appbilling "github.com/orbitpanel/backend/internal/application/billing"
	"github.com/orbitpanel/backend/internal/interfaces/http/dto"
	"github.com/orbitpanel/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader guards top-up requests against replays
const IdempotencyKeyHeader = "Idempotency-Key"

// WalletHandler handles wallet and ledger HTTP requests
type WalletHandler struct {
	BaseHandler
	walletService *appbilling.WalletService
	topUpService  *appbilling.TopUpService
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(walletService *appbilling.WalletService, topUpService *appbilling.TopUpService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		topUpService:  topUpService,
	}
}

// RegisterRoutes registers wallet routes
func (h *WalletHandler) RegisterRoutes(rg *gin.RouterGroup) {
	wallet := rg.Group("/wallet")
	{
		wallet.GET("", h.GetWallet)
		wallet.GET("/transactions", h.ListTransactions)
		wallet.POST("/topups", h.InitiateTopUp)
	}

	admin := rg.Group("/admin", middleware.AdminOnly())
	{
		admin.POST("/topups/:id/confirm", h.ConfirmTopUp)
		admin.POST("/topups/:id/fail", h.FailTopUp)
		admin.POST("/accounts/:id/balance", h.AdjustBalance)
	}
}

// GetWallet returns the caller's wallet balance
func (h *WalletHandler) GetWallet(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), principal, principal.AccountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewWalletResponse(wallet))
}

// ListTransactions returns the caller's ledger history
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}
	filter := req.Filter()

	txs, total, err := h.walletService.ListTransactions(c.Request.Context(), principal, principal.AccountID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, dto.NewTransactionResponses(txs), total, filter.Page, filter.PageSize)
}

// InitiateTopUp records a pending wallet credit
func (h *WalletHandler) InitiateTopUp(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	var req dto.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	tx, err := h.topUpService.Initiate(c.Request.Context(), principal.AccountID,
		decimal.NewFromFloat(req.Amount), c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.NewTransactionResponse(tx))
}

// ConfirmTopUp settles a pending top-up, crediting the wallet
func (h *WalletHandler) ConfirmTopUp(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.topUpService.Confirm(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewTransactionResponse(tx))
}

// FailTopUp closes a pending top-up without crediting the wallet
func (h *WalletHandler) FailTopUp(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.topUpService.Fail(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// AdjustBalance applies a signed admin balance correction
func (h *WalletHandler) AdjustBalance(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	wallet, err := h.walletService.Adjust(c.Request.Context(), principal, accountID,
		decimal.NewFromFloat(req.Delta))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewWalletResponse(wallet))
}
