package api

import (
	"net/http"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/Domenick1991/spiritbooking/internal/repository"
	"github.com/Domenick1991/spiritbooking/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     *logrus.Entry
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
	booking.StatusUpdate
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
	Refund bool   `json:"refund"`
}

type listQuery struct {
	Status string `form:"status"`
	Order  string `form:"order"`
	From   string `form:"from"`
	To     string `form:"to"`
}

func NewBookingHandler(service booking.BookingUseCase, log *logrus.Entry) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

// Register mounts the booking routes. The group is expected to run the auth
// middleware.
func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/bookings", h.create)
	router.GET("/bookings/:id", h.get)
	router.PUT("/bookings/:id/status", h.setStatus)
	router.POST("/bookings/:id/cancel", h.cancel)
	router.POST("/bookings/:id/meeting-room", h.meetingRoom)
	router.GET("/bookings/:id/eligibility", h.eligibility)
	router.GET("/providers/:providerId/bookings", h.listForProvider)
	router.GET("/customers/:customerId/bookings", h.listForCustomer)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) setStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), domain.BookingStatus(req.Status), req.StatusUpdate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.CancelBooking(c.Request.Context(), c.Param("id"), req.Reason, req.Refund)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) meetingRoom(c *gin.Context) {
	room, err := h.service.AllocateMeetingRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *BookingHandler) eligibility(c *gin.Context) {
	e, err := h.service.Eligibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *BookingHandler) listForProvider(c *gin.Context) {
	opts, ok := bindListOptions(c)
	if !ok {
		return
	}
	bookings, err := h.service.ListProviderBookings(c.Request.Context(), c.Param("providerId"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (h *BookingHandler) listForCustomer(c *gin.Context) {
	opts, ok := bindListOptions(c)
	if !ok {
		return
	}
	bookings, err := h.service.ListCustomerBookings(c.Request.Context(), c.Param("customerId"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func bindListOptions(c *gin.Context) (booking.ListOptions, bool) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return booking.ListOptions{}, false
	}
	return booking.ListOptions{
		Status: domain.BookingStatus(q.Status),
		Order:  repository.SortOrder(q.Order),
		From:   q.From,
		To:     q.To,
	}, true
}
