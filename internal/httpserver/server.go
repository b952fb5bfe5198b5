// Package httpserver is the HTTP facade over the booking and ticketing
// engines. Sessions are validated by tauth; the facade holds no state and
// translates domain errors to HTTP statuses.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/money"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/ticketing"
)

const (
	claimsContextKey = "auth_claims"
	roleAdmin        = "admin"
	dateLayout       = "2006-01-02"
)

// Run boots the HTTP facade using the supplied configuration and logger.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, bookings *booking.Service, tickets *ticketing.Service) error {
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		bookings: bookings,
		tickets:  tickets,
		cfg:      cfg,
	}

	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("clubstay api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/bookings/:id", handler.handleGetBooking)
	api.POST("/bookings/:id/cancel", handler.handleCancelBooking)
	api.POST("/bookings/:id/complete", handler.handleCompleteBooking)

	api.GET("/refunds/pending", handler.handleListPendingRefunds)
	api.POST("/refunds/:id/review", handler.handleReviewRefund)

	api.POST("/orders", handler.handleCreateOrder)
	api.GET("/orders/:id", handler.handleGetOrder)
	api.POST("/orders/:id/cancel", handler.handleCancelOrder)
	api.POST("/orders/:id/complete", handler.handleCompleteOrder)
	api.POST("/orders/:id/resume", handler.handleResumeOrder)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	bookings *booking.Service
	tickets  *ticketing.Service
	cfg      Config
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	bookingValue, err := handler.bookings.GetBooking(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !canAccess(claims, bookingValue.UserID) {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown booking"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(bookingValue)})
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request cancelBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if !handler.ownsBooking(ctx, requestCtx, claims, ctx.Param("id")) {
		return
	}
	result, err := handler.bookings.Cancel(requestCtx, ctx.Param("id"), time.Time{}, request.Reason)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"booking":       bookingPayloadFrom(result.Booking),
		"refund_amount": moneyPayloadFrom(result.RefundAmount),
		"settlement":    settlementPayloadFrom(result.Settlement),
	})
}

func (handler *httpHandler) handleCompleteBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if !handler.ownsBooking(ctx, requestCtx, claims, ctx.Param("id")) {
		return
	}
	completed, err := handler.bookings.CompleteBooking(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(completed)})
}

func (handler *httpHandler) handleListPendingRefunds(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasRole(claims, roleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	pendings, err := handler.bookings.ListPendingRefunds(requestCtx, pendingRefundListLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]pendingRefundPayload, 0, len(pendings))
	for _, pending := range pendings {
		payloads = append(payloads, pendingRefundPayloadFrom(pending))
	}
	ctx.JSON(http.StatusOK, gin.H{"pending_refunds": payloads})
}

func (handler *httpHandler) handleReviewRefund(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasRole(claims, roleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	var request reviewRefundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	reviewed, err := handler.bookings.ReviewPendingRefund(requestCtx, ctx.Param("id"), request.Approve)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"pending_refund": pendingRefundPayloadFrom(reviewed)})
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	lines := make([]ticketing.OrderLine, 0, len(request.Lines))
	for _, line := range request.Lines {
		donation, err := money.New(line.DonationMinor, request.Currency)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
			return
		}
		lines = append(lines, ticketing.OrderLine{
			TierID:   line.TierID,
			Quantity: line.Quantity,
			Donation: donation,
		})
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	order, err := handler.tickets.CreateOrder(requestCtx, ticketing.CreateOrderInput{
		UserID:   claims.GetUserID(),
		EventID:  request.EventID,
		Currency: request.Currency,
		Lines:    lines,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"order": orderPayloadFrom(order)})
}

func (handler *httpHandler) handleGetOrder(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	order, err := handler.tickets.GetOrder(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !canAccess(claims, order.UserID) {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown ticket order"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": orderPayloadFrom(order)})
}

func (handler *httpHandler) handleCancelOrder(ctx *gin.Context) {
	handler.mutateOrder(ctx, handler.tickets.CancelOrder)
}

func (handler *httpHandler) handleCompleteOrder(ctx *gin.Context) {
	handler.mutateOrder(ctx, handler.tickets.CompleteOrder)
}

func (handler *httpHandler) handleResumeOrder(ctx *gin.Context) {
	handler.mutateOrder(ctx, handler.tickets.ResumeOrder)
}

func (handler *httpHandler) mutateOrder(ctx *gin.Context, operation func(context.Context, string) (ticketing.TicketOrder, error)) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if !handler.ownsOrder(ctx, requestCtx, claims, ctx.Param("id")) {
		return
	}
	order, err := operation(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": orderPayloadFrom(order)})
}

// ownsBooking gates booking mutations on ownership. A booking the caller
// cannot see answers 404, same as the read path.
func (handler *httpHandler) ownsBooking(ctx *gin.Context, requestCtx context.Context, claims *sessionvalidator.Claims, bookingID string) bool {
	bookingValue, err := handler.bookings.GetBooking(requestCtx, bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return false
	}
	if !canAccess(claims, bookingValue.UserID) {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown booking"))
		return false
	}
	return true
}

func (handler *httpHandler) ownsOrder(ctx *gin.Context, requestCtx context.Context, claims *sessionvalidator.Claims, orderID string) bool {
	order, err := handler.tickets.GetOrder(requestCtx, orderID)
	if err != nil {
		handler.respondError(ctx, err)
		return false
	}
	if !canAccess(claims, order.UserID) {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown ticket order"))
		return false
	}
	return true
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrUnknownBooking):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown booking"))
	case errors.Is(err, booking.ErrUnknownPendingRefund):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown pending refund"))
	case errors.Is(err, ticketing.ErrUnknownOrder):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown ticket order"))
	case errors.Is(err, ticketing.ErrUnknownTier):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown ticket tier"))
	case errors.Is(err, booking.ErrNotEligible):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("not_eligible", "booking not eligible for cancellation"))
	case errors.Is(err, booking.ErrRefundOverflow):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("refund_overflow", "refund exceeds booking total"))
	case errors.Is(err, ticketing.ErrOrderExpired):
		ctx.JSON(http.StatusGone, errorResponse("order_expired", "ticket order hold expired"))
	case errors.Is(err, ticketing.ErrOrderClosed):
		ctx.JSON(http.StatusConflict, errorResponse("order_closed", "ticket order already closed"))
	case errors.Is(err, booking.ErrPendingRefundClosed):
		ctx.JSON(http.StatusConflict, errorResponse("already_reviewed", "pending refund already reviewed"))
	case errors.Is(err, booking.ErrConflict), errors.Is(err, ticketing.ErrConflict):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", "concurrent modification"))
	case errors.Is(err, ticketing.ErrInsufficientInventory):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_inventory", "not enough seats remain"))
	case errors.Is(err, booking.ErrPaymentNotFound):
		ctx.JSON(http.StatusBadGateway, errorResponse("payment_error", "captured payment not found"))
	case errors.Is(err, ticketing.ErrInvalidOrder),
		errors.Is(err, ticketing.ErrInvalidTierType),
		errors.Is(err, booking.ErrInvalidProperty),
		errors.Is(err, booking.ErrInvalidBookingMode),
		errors.Is(err, booking.ErrInvalidBooking):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

const pendingRefundListLimit = 50

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func canAccess(claims *sessionvalidator.Claims, ownerID string) bool {
	return claims.GetUserID() == ownerID || hasRole(claims, roleAdmin)
}

func hasRole(claims *sessionvalidator.Claims, role string) bool {
	for _, candidate := range claims.GetUserRoles() {
		if candidate == role {
			return true
		}
	}
	return false
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type reviewRefundRequest struct {
	Approve bool `json:"approve"`
}

type createOrderRequest struct {
	EventID  string             `json:"event_id"`
	Currency string             `json:"currency"`
	Lines    []orderLineRequest `json:"lines"`
}

type orderLineRequest struct {
	TierID        string `json:"tier_id"`
	Quantity      int    `json:"quantity"`
	DonationMinor int64  `json:"donation_minor"`
}

type moneyPayload struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

func moneyPayloadFrom(value money.Money) moneyPayload {
	return moneyPayload{AmountMinor: value.AmountMinor(), Currency: value.Currency()}
}

type bookingPayload struct {
	BookingID     string       `json:"booking_id"`
	ReferenceID   string       `json:"reference_id"`
	UserID        string       `json:"user_id"`
	Property      string       `json:"property"`
	Mode          string       `json:"mode"`
	Status        string       `json:"status"`
	CheckinDate   string       `json:"checkin_date"`
	CheckoutDate  string       `json:"checkout_date"`
	GuestsCount   int          `json:"guests_count"`
	ChildrenCount int          `json:"children_count"`
	TotalPrice    moneyPayload `json:"total_price"`
}

func bookingPayloadFrom(bookingValue booking.Booking) bookingPayload {
	return bookingPayload{
		BookingID:     bookingValue.BookingID,
		ReferenceID:   bookingValue.ReferenceID,
		UserID:        bookingValue.UserID,
		Property:      bookingValue.Property.String(),
		Mode:          bookingValue.Mode.String(),
		Status:        bookingValue.Status.String(),
		CheckinDate:   bookingValue.CheckinDate.UTC().Format(dateLayout),
		CheckoutDate:  bookingValue.CheckoutDate.UTC().Format(dateLayout),
		GuestsCount:   bookingValue.GuestsCount,
		ChildrenCount: bookingValue.ChildrenCount,
		TotalPrice:    moneyPayloadFrom(bookingValue.TotalPrice),
	}
}

type transactionPayload struct {
	TransactionID  string       `json:"transaction_id"`
	Direction      string       `json:"direction"`
	Amount         moneyPayload `json:"amount"`
	CreatedUnixUTC int64        `json:"created_unix_utc"`
}

type pendingRefundPayload struct {
	PendingRefundID string       `json:"pending_refund_id"`
	BookingID       string       `json:"booking_id"`
	Amount          moneyPayload `json:"amount"`
	Reason          string       `json:"reason"`
	Approval        string       `json:"approval"`
	CreatedUnixUTC  int64        `json:"created_unix_utc"`
}

func pendingRefundPayloadFrom(pending booking.PendingRefund) pendingRefundPayload {
	return pendingRefundPayload{
		PendingRefundID: pending.PendingRefundID,
		BookingID:       pending.BookingID,
		Amount:          moneyPayloadFrom(pending.Amount),
		Reason:          pending.Reason,
		Approval:        pending.Approval.String(),
		CreatedUnixUTC:  pending.CreatedAt.Unix(),
	}
}

type settlementPayload struct {
	Kind        string                `json:"kind"`
	Transaction *transactionPayload   `json:"transaction,omitempty"`
	Pending     *pendingRefundPayload `json:"pending_refund,omitempty"`
}

func settlementPayloadFrom(settlement booking.Settlement) settlementPayload {
	payload := settlementPayload{Kind: string(settlement.Kind)}
	if settlement.Transaction != nil {
		payload.Transaction = &transactionPayload{
			TransactionID:  settlement.Transaction.TransactionID,
			Direction:      string(settlement.Transaction.Direction),
			Amount:         moneyPayloadFrom(settlement.Transaction.Amount),
			CreatedUnixUTC: settlement.Transaction.CreatedAt.Unix(),
		}
	}
	if settlement.Pending != nil {
		pending := pendingRefundPayloadFrom(*settlement.Pending)
		payload.Pending = &pending
	}
	return payload
}

type ticketPayload struct {
	TicketID string       `json:"ticket_id"`
	TierID   string       `json:"tier_id"`
	Price    moneyPayload `json:"price"`
}

type orderPayload struct {
	OrderID          string          `json:"order_id"`
	ReferenceID      string          `json:"reference_id"`
	UserID           string          `json:"user_id"`
	EventID          string          `json:"event_id"`
	Status           string          `json:"status"`
	TotalAmount      moneyPayload    `json:"total_amount"`
	ExpiresAtUnixUTC int64           `json:"expires_at_unix_utc"`
	CreatedUnixUTC   int64           `json:"created_unix_utc"`
	Tickets          []ticketPayload `json:"tickets"`
}

func orderPayloadFrom(order ticketing.TicketOrder) orderPayload {
	tickets := make([]ticketPayload, 0, len(order.Tickets))
	for _, ticket := range order.Tickets {
		tickets = append(tickets, ticketPayload{
			TicketID: ticket.TicketID,
			TierID:   ticket.TierID,
			Price:    moneyPayloadFrom(ticket.Price),
		})
	}
	var expiresAt int64
	if !order.ExpiresAt.IsZero() {
		expiresAt = order.ExpiresAt.Unix()
	}
	return orderPayload{
		OrderID:          order.OrderID,
		ReferenceID:      order.ReferenceID,
		UserID:           order.UserID,
		EventID:          order.EventID,
		Status:           order.Status.String(),
		TotalAmount:      moneyPayloadFrom(order.TotalAmount),
		ExpiresAtUnixUTC: expiresAt,
		CreatedUnixUTC:   order.CreatedAt.Unix(),
		Tickets:          tickets,
	}
}
