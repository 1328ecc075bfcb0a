package models

import (
	"time"
)

// Donation status values. Status only moves forward:
// created -> paid -> refunded, or created -> failed.
const (
	StatusCreated  = "created"
	StatusPaid     = "paid"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

type Donation struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            *uint      `gorm:"index" json:"user_id,omitempty"` // set for authenticated donors
	DonorName         string     `gorm:"size:100" json:"donor_name,omitempty"`
	DonorEmail        string     `gorm:"size:100" json:"donor_email,omitempty"`
	Amount            int        `json:"amount"` // whole rupees
	Currency          string     `gorm:"size:10" json:"currency"`
	Purpose           string     `gorm:"size:50" json:"purpose"` // fixed classification tag, e.g. "donation"
	Receipt           string     `gorm:"size:64;uniqueIndex" json:"receipt"`
	RazorpayOrderID   string     `gorm:"size:64;uniqueIndex" json:"razorpay_order_id"`
	RazorpayPaymentID string     `gorm:"size:64" json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string     `gorm:"size:128" json:"-"`
	Status            string     `gorm:"size:20;index" json:"status"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsGuest reports whether the donation was made without an account.
func (d *Donation) IsGuest() bool {
	return d.UserID == nil
}
