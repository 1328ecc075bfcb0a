package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sevasetu/donation-service/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEvent is returned when a webhook event id was already recorded.
var ErrDuplicateEvent = errors.New("duplicate webhook event")

// DonationStats are the admin aggregate numbers over paid donations.
type DonationStats struct {
	TotalDonations int64 `json:"total_donations"`
	TotalAmount    int64 `json:"total_amount"`
	AverageAmount  int64 `json:"average_amount"`
}

// DonationStore is the persistence boundary for the donation lifecycle. The
// Mark* methods perform conditional updates: they apply the transition only if
// the row is still in the expected source state and report whether a row was
// changed, which is what makes the confirmation/webhook race safe.
type DonationStore interface {
	Create(ctx context.Context, d *models.Donation) error
	ByOrderID(ctx context.Context, orderID string) (*models.Donation, error)
	ByID(ctx context.Context, id uint) (*models.Donation, error)
	MarkPaid(ctx context.Context, orderID, paymentID, signature string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, orderID string) (bool, error)
	MarkRefunded(ctx context.Context, orderID string) (bool, error)
	PaidByUser(ctx context.Context, userID uint) ([]models.Donation, error)
	List(ctx context.Context, limit, offset int) ([]models.Donation, error)
	Stats(ctx context.Context) (*DonationStats, error)
	SaveEvent(ctx context.Context, ev *models.WebhookEvent) error
}

// gormStore is the MySQL-backed DonationStore.
type gormStore struct {
	db *gorm.DB
}

func NewDonationStore(db *gorm.DB) DonationStore {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, d *models.Donation) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *gormStore) ByOrderID(ctx context.Context, orderID string) (*models.Donation, error) {
	var donation models.Donation
	if err := s.db.WithContext(ctx).Where("razorpay_order_id = ?", orderID).First(&donation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &donation, nil
}

func (s *gormStore) ByID(ctx context.Context, id uint) (*models.Donation, error) {
	var donation models.Donation
	if err := s.db.WithContext(ctx).First(&donation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &donation, nil
}

// MarkPaid transitions created -> paid in a single conditional UPDATE. Payment
// id and signature are written exactly once, by whichever caller wins the race.
func (s *gormStore) MarkPaid(ctx context.Context, orderID, paymentID, signature string, paidAt time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("razorpay_order_id = ? AND status = ?", orderID, models.StatusCreated).
		Updates(map[string]interface{}{
			"status":              models.StatusPaid,
			"razorpay_payment_id": paymentID,
			"razorpay_signature":  signature,
			"paid_at":             paidAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("razorpay_order_id = ? AND status = ?", orderID, models.StatusCreated).
		Update("status", models.StatusFailed)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) MarkRefunded(ctx context.Context, orderID string) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("razorpay_order_id = ? AND status = ?", orderID, models.StatusPaid).
		Update("status", models.StatusRefunded)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) PaidByUser(ctx context.Context, userID uint) ([]models.Donation, error) {
	var donations []models.Donation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusPaid).
		Order("paid_at DESC").
		Find(&donations).Error
	return donations, err
}

func (s *gormStore) List(ctx context.Context, limit, offset int) ([]models.Donation, error) {
	var donations []models.Donation
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&donations).Error
	return donations, err
}

func (s *gormStore) Stats(ctx context.Context) (*DonationStats, error) {
	var stats DonationStats
	row := s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("status = ?", models.StatusPaid).
		Select("COUNT(*) as total_donations, COALESCE(SUM(amount),0) as total_amount").
		Row()
	if err := row.Scan(&stats.TotalDonations, &stats.TotalAmount); err != nil {
		return nil, err
	}
	if stats.TotalDonations > 0 {
		stats.AverageAmount = stats.TotalAmount / stats.TotalDonations
	}
	return &stats, nil
}

func (s *gormStore) SaveEvent(ctx context.Context, ev *models.WebhookEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}
