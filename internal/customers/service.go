package customers

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/adapters/evolution"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
)

// Customer statuses.
const (
	StatusLead     = "lead"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	ErrNotFound       = errors.New("customer not found")
	ErrDuplicatePhone = errors.New("a customer with this phone already exists")
)

var statuses = map[string]bool{StatusLead: true, StatusActive: true, StatusInactive: true}

// Input is the editable part of a customer.
type Input struct {
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Phone   string   `json:"phone"`
	Company string   `json:"company,omitempty"`
	Status  string   `json:"status,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Notes   string   `json:"notes,omitempty"`
}

func (in *Input) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return &health.ValidationError{Field: "name", Message: "is required"}
	}
	in.Phone = evolution.NormalizeNumber(in.Phone)
	if len(in.Phone) < 8 {
		return &health.ValidationError{Field: "phone", Message: "must have at least 8 digits"}
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return &health.ValidationError{Field: "email", Message: "is not a valid address"}
		}
	}
	if in.Status == "" {
		in.Status = StatusLead
	}
	if !statuses[in.Status] {
		return &health.ValidationError{Field: "status", Message: "must be lead, active or inactive"}
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	return nil
}

func (in Input) apply(c *models.Customer) {
	c.Name = in.Name
	c.Email = in.Email
	c.Phone = in.Phone
	c.Company = in.Company
	c.Status = in.Status
	c.Tags = datatypes.JSONSlice[string](in.Tags)
	c.Notes = in.Notes
}

// Filter narrows List. Query matches name, email or phone.
type Filter struct {
	Query  string
	Status string
	Limit  int
	Offset int
}

// Service manages a user's CRM contacts.
type Service struct {
	db *gorm.DB
}

// NewService creates a Service.
func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn}
}

// Create stores a new customer. Phones are unique per user.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*models.Customer, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	c := &models.Customer{UserID: userID}
	in.apply(c)
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	log.Info().Str("userID", userID).Str("customerID", c.ID).Msg("Customer created")
	return c, nil
}

// List returns customers matching f, newest first.
func (s *Service) List(ctx context.Context, userID string, f Filter) ([]models.Customer, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Customer{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var out []models.Customer
	err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, total, err
}

// Get returns one customer.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Update replaces a customer's fields.
func (s *Service) Update(ctx context.Context, userID, id string, in Input) (*models.Customer, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in.apply(c)
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	return c, nil
}

// Delete removes a customer.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.Customer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
