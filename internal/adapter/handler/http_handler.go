package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/core/service"
	"github.com/Quagm/ios-aquatics/internal/port"
)

type HTTPHandler struct {
	orders    *service.OrderService
	stock     *service.StockService
	inquiries *service.InquiryService
}

type StockCheckRequest struct {
	Items []domain.StockRequest `json:"items"`
}

type CreateOrderRequest struct {
	Items    []service.LineItem      `json:"items"`
	Total    decimal.Decimal         `json:"total"`
	Customer domain.CustomerSnapshot `json:"customer"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type CompleteOrderRequest struct {
	OrderID string `json:"orderId"`
}

type ResetStockRequest struct {
	TargetStock int `json:"targetStock"`
}

type SetStockRequest struct {
	Stock   *int `json:"stock"`
	Version *int `json:"version"`
}

type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

func NewHTTPHandler(orders *service.OrderService, stock *service.StockService, inquiries *service.InquiryService) *HTTPHandler {
	return &HTTPHandler{orders: orders, stock: stock, inquiries: inquiries}
}

type RouterConfig struct {
	// Verifier may be nil outside production; bearer tokens are then rejected.
	Verifier     port.TokenVerifier
	Policy       *AdminPolicy
	RequireToken bool
}

func NewRouter(h *HTTPHandler, rc RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", Authenticate(rc.Verifier, rc.RequireToken))
	api.POST("/checkout/stock-check", h.CheckStock)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/payment-link", h.CreatePaymentLink)
	api.GET("/products/:id/stock", h.GetStock)

	admin := api.Group("/admin", RequireAdmin(rc.Policy))
	admin.GET("/orders", h.ListOrders)
	admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	admin.POST("/orders/complete", h.CompleteOrder)
	admin.DELETE("/orders/:id", h.DeleteOrder)
	admin.POST("/stock/reset", h.ResetStock)
	admin.PUT("/products/:id/stock", h.SetStock)
	admin.POST("/products/:id/stock/adjust", h.AdjustStock)
	admin.PATCH("/inquiries/:id/status", h.UpdateInquiryStatus)

	return r
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, &domain.ValidationError{Field: "body", Reason: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *HTTPHandler) CheckStock(c *gin.Context) {
	var req StockCheckRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.stock.CheckAvailability(c.Request.Context(), req.Items); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		UserID:         identityFrom(c).UserID,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Customer:       req.Customer,
		Items:          req.Items,
		Total:          req.Total,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ownedOrder loads an order the caller may see: their own, or any for admins.
func (h *HTTPHandler) ownedOrder(c *gin.Context) (*domain.Order, bool) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	id := identityFrom(c)
	if !id.IsAnonymous() && !id.IsAdmin() && order.UserID != id.UserID {
		writeError(c, domain.ErrForbidden)
		return nil, false
	}
	return order, true
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) CreatePaymentLink(c *gin.Context) {
	if identityFrom(c).IsAnonymous() {
		writeError(c, domain.ErrUnauthorized)
		return
	}
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	url, err := h.orders.CreatePaymentLink(c.Request.Context(), order.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *HTTPHandler) GetStock(c *gin.Context) {
	productID := c.Param("id")
	stock, err := h.stock.GetStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": productID, "stock": stock})
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	var filter domain.OrderFilter

	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := domain.ParseOrderStatus(part)
			if err != nil {
				writeError(c, err)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.CustomerEmail = c.Query("email")
	if raw := c.Query("archived"); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, &domain.ValidationError{Field: "archived", Reason: "must be true or false"})
			return
		}
		filter.Archived = &archived
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *HTTPHandler) UpdateOrderStatus(c *gin.Context) {
	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) CompleteOrder(c *gin.Context) {
	var req CompleteOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.OrderID == "" {
		writeError(c, &domain.ValidationError{Field: "orderId", Reason: "is required"})
		return
	}

	order, err := h.orders.CompleteOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *HTTPHandler) DeleteOrder(c *gin.Context) {
	if err := h.orders.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) ResetStock(c *gin.Context) {
	var req ResetStockRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.stock.ResetAll(c.Request.Context(), req.TargetStock)
	if err != nil {
		body := errorBody(err)
		body.Details = result.Errors
		c.AbortWithStatusJSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *HTTPHandler) SetStock(c *gin.Context) {
	var req SetStockRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Stock == nil || req.Version == nil {
		writeError(c, &domain.ValidationError{Field: "body", Reason: "stock and version are required"})
		return
	}

	productID := c.Param("id")
	if err := h.stock.SetStock(c.Request.Context(), productID, *req.Stock, *req.Version); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": productID, "stock": *req.Stock})
}

func (h *HTTPHandler) AdjustStock(c *gin.Context) {
	var req AdjustStockRequest
	if !bindJSON(c, &req) {
		return
	}

	productID := c.Param("id")
	stock, err := h.stock.Adjust(c.Request.Context(), productID, req.Delta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": productID, "stock": stock})
}

func (h *HTTPHandler) UpdateInquiryStatus(c *gin.Context) {
	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	status, err := domain.ParseInquiryStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	inq, err := h.inquiries.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inq)
}
