package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"intent-backend/internal/protocol"
	"intent-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// ============================================================================
// Intent Handlers
// ============================================================================
// Public intent lifecycle surface:
// - RequestDepositHandler / RequestWithdrawHandler: create the two legs
// - CancelDepositHandler / ClaimRefundHandler: owner compensation paths
// - GetIntentHandler / ListIntentsHandler / ListReceiptsHandler: queries
// Owner-only routes read the authenticated address from the JWT claim.
// ============================================================================

// IntentHandlers bundles the intent lifecycle endpoints
type IntentHandlers struct {
	orchestrator *services.OrchestratorService
	push         *services.WebSocketPushService
}

// NewIntentHandlers creates a new IntentHandlers instance
func NewIntentHandlers(orchestrator *services.OrchestratorService, push *services.WebSocketPushService) *IntentHandlers {
	return &IntentHandlers{orchestrator: orchestrator, push: push}
}

// writeProtocolError maps protocol error kinds onto HTTP responses. The code
// field tells clients apart "permanently invalid" from "try again later".
func writeProtocolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, protocol.ErrDeadlineZero),
		errors.Is(err, protocol.ErrDeadlineNotFuture),
		errors.Is(err, protocol.ErrZeroAmount),
		errors.Is(err, protocol.ErrNetAmountMismatch),
		errors.Is(err, protocol.ErrAmountExceedsShares),
		errors.Is(err, protocol.ErrZeroTime):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION"})
	case errors.Is(err, protocol.ErrNotOwner),
		errors.Is(err, protocol.ErrSecretMismatch),
		errors.Is(err, protocol.ErrRelayerIsOwner):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "AUTHORIZATION"})
	case errors.Is(err, protocol.ErrIntentNotFound),
		errors.Is(err, protocol.ErrReceiptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, protocol.ErrIntentExists),
		errors.Is(err, protocol.ErrWrongStatus),
		errors.Is(err, protocol.ErrAlreadyConsumed),
		errors.Is(err, protocol.ErrDeadlineNotReached),
		errors.Is(err, protocol.ErrReceiptNotActive),
		errors.Is(err, protocol.ErrReceiptNullified),
		errors.Is(err, protocol.ErrStaleConfirmation),
		errors.Is(err, protocol.ErrMessageReplay):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "STATE"})
	case errors.Is(err, protocol.ErrNotYetDelivered):
		c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "code": "RETRY_LATER"})
	case errors.Is(err, protocol.ErrWitnessInvalid),
		errors.Is(err, protocol.ErrUnknownRoot):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "PROOF"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "INTERNAL"})
	}
}

// ownerFromContext returns the authenticated owner address set by the auth
// middleware.
func ownerFromContext(c *gin.Context) (common.Address, bool) {
	value, ok := c.Get("owner")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": "UNAUTHENTICATED"})
		return common.Address{}, false
	}
	addr, ok := value.(string)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": "UNAUTHENTICATED"})
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

func parseAmount(c *gin.Context, field, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Invalid " + field + " format",
			"received": raw,
		})
		return nil, false
	}
	return amount, true
}

// RequestDepositBody deposit creation request
type RequestDepositBody struct {
	AssetID          string `json:"asset_id" binding:"required"`
	Amount           string `json:"amount" binding:"required"`
	OriginalDecimals uint8  `json:"original_decimals"`
	Deadline         uint64 `json:"deadline" binding:"required"`
	SecretHash       string `json:"secret_hash" binding:"required"`
}

// RequestDepositHandler creates a deposit intent
// POST /api/intents/deposit
func (h *IntentHandlers) RequestDepositHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var body RequestDepositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(c, "amount", body.Amount)
	if !ok {
		return
	}

	result, err := h.orchestrator.RequestDeposit(c.Request.Context(), services.DepositRequest{
		Caller:           caller,
		AssetID:          common.HexToHash(body.AssetID),
		Amount:           amount,
		OriginalDecimals: body.OriginalDecimals,
		Deadline:         body.Deadline,
		SecretHash:       common.HexToHash(body.SecretHash),
	})
	if err != nil {
		writeProtocolError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"intent_id":  result.IntentID.Hex(),
		"owner_hash": result.OwnerHash.Hex(),
		"net_amount": result.NetAmount.String(),
		"message_id": result.MessageID.Hex(),
	})
}

// RequestWithdrawBody withdraw creation request
type RequestWithdrawBody struct {
	Nonce      string `json:"nonce" binding:"required"` // Active receipt nonce
	Amount     string `json:"amount" binding:"required"`
	Deadline   uint64 `json:"deadline" binding:"required"`
	SecretHash string `json:"secret_hash" binding:"required"`
}

// RequestWithdrawHandler opens the withdraw leg of a position
// POST /api/intents/withdraw
func (h *IntentHandlers) RequestWithdrawHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var body RequestWithdrawBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(c, "amount", body.Amount)
	if !ok {
		return
	}

	result, err := h.orchestrator.RequestWithdraw(c.Request.Context(), services.WithdrawRequest{
		Caller:     caller,
		Nonce:      common.HexToHash(body.Nonce),
		Amount:     amount,
		Deadline:   body.Deadline,
		SecretHash: common.HexToHash(body.SecretHash),
	})
	if err != nil {
		writeProtocolError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"intent_id":  result.IntentID.Hex(),
		"owner_hash": result.OwnerHash.Hex(),
		"message_id": result.MessageID.Hex(),
	})
}

// CancelDepositBody deposit compensation request
type CancelDepositBody struct {
	Secret    string `json:"secret" binding:"required"`
	NetAmount string `json:"net_amount" binding:"required"`
}

// CancelDepositHandler runs the deposit compensation path
// POST /api/intents/:intentId/cancel
func (h *IntentHandlers) CancelDepositHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var body CancelDepositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	netAmount, ok := parseAmount(c, "net_amount", body.NetAmount)
	if !ok {
		return
	}

	returned, err := h.orchestrator.CancelDeposit(
		c.Request.Context(),
		caller,
		common.HexToHash(body.Secret),
		common.HexToHash(c.Param("intentId")),
		netAmount,
	)
	if err != nil {
		writeProtocolError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "cancelled",
		"returned_amount": returned.String(),
	})
}

// ClaimRefundBody withdraw compensation request
type ClaimRefundBody struct {
	Secret      string `json:"secret" binding:"required"`
	CurrentTime uint64 `json:"current_time"`
}

// ClaimRefundHandler runs the withdraw compensation path
// POST /api/intents/:intentId/refund
func (h *IntentHandlers) ClaimRefundHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var body ClaimRefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.orchestrator.ClaimRefund(
		c.Request.Context(),
		caller,
		common.HexToHash(body.Secret),
		common.HexToHash(c.Param("intentId")),
		body.CurrentTime,
	)
	if err != nil {
		writeProtocolError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "refunded",
		"receipt": receipt,
	})
}

// GetIntentHandler retrieves one intent with its transition history
// GET /api/intents/:intentId
func (h *IntentHandlers) GetIntentHandler(c *gin.Context) {
	intent, transitions, err := h.orchestrator.GetIntent(c.Request.Context(), common.HexToHash(c.Param("intentId")).Hex())
	if err != nil {
		writeProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"intent":      intent,
		"transitions": transitions,
	})
}

// ListIntentsHandler pages through all intents (admin surface)
// GET /admin/intents?page=1&page_size=50
func (h *IntentHandlers) ListIntentsHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if err != nil || pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	intents, total, err := h.orchestrator.ListIntents(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"intents":   intents,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListReceiptsHandler returns the caller's position receipts
// GET /api/receipts?include_nullified=false
func (h *IntentHandlers) ListReceiptsHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	includeNullified := c.DefaultQuery("include_nullified", "false") == "true"

	receipts, err := h.orchestrator.ListReceipts(c.Request.Context(), caller.Hex(), includeNullified)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

// WebSocketHandler upgrades to the push channel for the authenticated owner
// GET /api/ws
func (h *IntentHandlers) WebSocketHandler(c *gin.Context) {
	caller, ok := ownerFromContext(c)
	if !ok {
		return
	}
	if err := h.push.HandleConnection(c.Writer, c.Request, caller.Hex()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
