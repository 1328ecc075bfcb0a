package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sevasetu/donation-service/models"
	"github.com/sevasetu/donation-service/services"
	"github.com/sevasetu/donation-service/utils"
)

type APIRoutes struct {
	donations *services.DonationService
	jwtSecret string
	donateURL string // public donation page, encoded into the QR code
	feed      *donationFeed
}

func NewAPIRoutes(donations *services.DonationService, jwtSecret, donateURL string) *APIRoutes {
	ar := &APIRoutes{
		donations: donations,
		jwtSecret: jwtSecret,
		donateURL: donateURL,
		feed:      newDonationFeed(),
	}

	// Push every newly paid donation to live feed subscribers.
	donations.SetPaidCallback(ar.feed.BroadcastPaidDonation)

	go ar.feed.run()

	return ar
}

// SetupRoutes registers the donation API. The webhook route reads the raw
// body itself; every other endpoint binds parsed JSON.
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/donation")
	{
		api.POST("/create-order", OptionalAuth(ar.jwtSecret), ar.CreateOrder)
		api.POST("/verify-donation", ar.VerifyDonation)
		api.POST("/webhook", ar.Webhook)
		api.GET("/status/:orderId", ar.Status)
		api.GET("/qrcode", ar.QRCode)
		api.GET("/ws", ar.feed.Subscribe)

		api.GET("/my-donations", RequireAuth(ar.jwtSecret), ar.MyDonations)

		admin := api.Group("", RequireAuth(ar.jwtSecret), RequireAdmin())
		{
			admin.GET("/all-donations", ar.AllDonations)
			admin.GET("/single-donation/:id", ar.SingleDonation)
			admin.GET("/donation-stats", ar.DonationStats)
			admin.POST("/refund/:orderId", ar.Refund)
		}
	}
}

// statusForError maps service error kinds to HTTP statuses. Services never
// pick statuses themselves.
func statusForError(err error) int {
	switch services.KindOf(err) {
	case services.ErrInvalidAmount,
		services.ErrAmountTooLarge,
		services.ErrMissingDonorIdentity,
		services.ErrMissingPaymentFields,
		services.ErrInvalidSignature,
		services.ErrInvalidState:
		return http.StatusBadRequest
	case services.ErrDonationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"success": false, "message": err.Error()})
}

// CreateOrder opens a gateway order for a donation. Guests must supply name
// and email; authenticated donors are identified from the bearer token.
func (ar *APIRoutes) CreateOrder(c *gin.Context) {
	var req struct {
		Amount int    `json:"amount"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	order, err := ar.donations.CreateOrder(c.Request.Context(), services.CreateOrderInput{
		Amount: req.Amount,
		Name:   req.Name,
		Email:  req.Email,
	}, currentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"orderId":  order.OrderID,
		"amount":   order.Amount,
		"currency": order.Currency,
		"receipt":  order.Receipt,
	})
}

// VerifyDonation is the client-submitted confirmation after checkout.
func (ar *APIRoutes) VerifyDonation(c *gin.Context) {
	var req struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	donation, err := ar.donations.VerifyPayment(c.Request.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "donation": donation})
}

// Webhook handles gateway-pushed payment events. The signature is computed
// over the raw body, so this route never goes through JSON binding.
func (ar *APIRoutes) Webhook(c *gin.Context) {
	signature := c.GetHeader("x-razorpay-signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing webhook signature"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "error reading body"})
		return
	}

	eventID := c.GetHeader("x-razorpay-event-id")
	if err := ar.donations.HandleWebhook(c.Request.Context(), body, signature, eventID); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Status is the polling endpoint the client uses to discover asynchronous
// confirmation outcomes after the checkout UI is dismissed.
func (ar *APIRoutes) Status(c *gin.Context) {
	status, err := ar.donations.Status(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

// MyDonations lists the caller's paid donations.
func (ar *APIRoutes) MyDonations(c *gin.Context) {
	userID := currentUserID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authentication required"})
		return
	}

	donations, err := ar.donations.MyDonations(c.Request.Context(), *userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "donations": donations})
}

// AllDonations is the paginated admin listing.
func (ar *APIRoutes) AllDonations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	donations, err := ar.donations.AllDonations(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"donations": donations,
		"pagination": gin.H{
			"limit": limit,
			"page":  page,
		},
	})
}

// SingleDonation is the admin detail view.
func (ar *APIRoutes) SingleDonation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid donation id"})
		return
	}

	donation, err := ar.donations.DonationByID(c.Request.Context(), uint(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "donation": donation})
}

// DonationStats returns the aggregate numbers over paid donations.
func (ar *APIRoutes) DonationStats(c *gin.Context) {
	stats, err := ar.donations.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// Refund issues a gateway refund for a paid donation.
func (ar *APIRoutes) Refund(c *gin.Context) {
	donation, err := ar.donations.Refund(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "donation": donation})
}

// QRCode renders the public donation page URL as a PNG, for posters and
// printed material.
func (ar *APIRoutes) QRCode(c *gin.Context) {
	target := ar.donateURL
	if target == "" {
		target = "https://" + c.Request.Host + "/donate"
	}

	qrBytes, err := utils.GenerateQRCode(target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Writer.Write(qrBytes)
}

// donationView trims a donation for the public live feed: no donor email, no
// gateway identifiers.
func donationView(d *models.Donation) gin.H {
	name := d.DonorName
	if !d.IsGuest() {
		name = "member"
	}
	if name == "" {
		name = "anonymous"
	}
	return gin.H{
		"donor":   name,
		"amount":  d.Amount,
		"paid_at": d.PaidAt,
	}
}
