package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Config types stored in IntegrationConfig.ConfigType.
const (
	ConfigTypeEvolutionAPI = "evolution_api"
	ConfigTypeN8n          = "n8n"
	ConfigTypePix          = "pix"
	ConfigTypeStripe       = "stripe"
	ConfigTypeMercadoPago  = "mercado_pago"
	ConfigTypeS3Storage    = "s3_storage"
	ConfigTypeSystem       = "system"
)

// IntegrationConfig is one version of a user's configuration for an integration.
// Rows are append-only: an update deactivates the current head and inserts a new one.
// At most one row per (user_id, config_type) may be active.
type IntegrationConfig struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	UserID        string            `gorm:"size:64;not null;index:idx_integration_configs_lookup,priority:1;uniqueIndex:idx_integration_configs_active,where:is_active,priority:1;comment:Owner of the configuration" json:"user_id"`
	ConfigType    string            `gorm:"size:64;not null;index:idx_integration_configs_lookup,priority:2;uniqueIndex:idx_integration_configs_active,where:is_active,priority:2;comment:Integration this blob belongs to, e.g. evolution_api" json:"config_type"`
	Data          datatypes.JSONMap `gorm:"not null;comment:Integration-specific key/value blob" json:"data"`
	IsActive      bool              `gorm:"not null;index;comment:Marks the current head of the (user, type) lineage" json:"is_active"`
	CreatedAt     time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	DeactivatedAt *time.Time        `json:"deactivated_at,omitempty"`
}

// WhatsAppInstance mirrors an instance created on the external WhatsApp gateway.
type WhatsAppInstance struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	UserID             string    `gorm:"size:64;not null;uniqueIndex:idx_whatsapp_instances_user_name,priority:1" json:"user_id"`
	Name               string    `gorm:"size:128;not null;uniqueIndex:idx_whatsapp_instances_user_name,priority:2;comment:Instance name on the gateway" json:"name"`
	Status             string    `gorm:"size:32;not null;index;comment:disconnected, connecting, qr_ready or connected" json:"status"`
	PhoneNumber        string    `gorm:"size:32" json:"phone_number,omitempty"`
	QRCode             string    `gorm:"type:text;comment:Last pairing payload returned by the gateway" json:"qr_code,omitempty"`
	QRCodeURL          string    `gorm:"size:512;comment:Stored QR image, when object storage is configured" json:"qr_code_url,omitempty"`
	WebhookURL         string    `gorm:"size:512" json:"webhook_url,omitempty"`
	AutoReply          bool      `json:"auto_reply"`
	AutoReplyMessage   string    `gorm:"type:text" json:"auto_reply_message,omitempty"`
	BusinessHoursStart string    `gorm:"size:5;comment:HH:MM" json:"business_hours_start,omitempty"`
	BusinessHoursEnd   string    `gorm:"size:5;comment:HH:MM" json:"business_hours_end,omitempty"`
	LastError          string    `gorm:"type:text;comment:Reason of the last failure that dropped the instance to disconnected" json:"last_error,omitempty"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Workflow is an automation definition. Actions are display labels only.
type Workflow struct {
	ID            string                      `gorm:"primaryKey;size:36" json:"id"`
	UserID        string                      `gorm:"size:64;not null;index" json:"user_id"`
	Name          string                      `gorm:"size:255;not null" json:"name"`
	Description   string                      `gorm:"type:text" json:"description"`
	Status        string                      `gorm:"size:16;not null;index;comment:active or inactive" json:"status"`
	TriggerType   string                      `gorm:"size:32;not null" json:"trigger_type"`
	TriggerConfig datatypes.JSONMap           `json:"trigger_config"`
	Actions       datatypes.JSONSlice[string] `json:"actions"`
	RemoteID      string                      `gorm:"size:64;comment:Workflow id on the automation engine, when linked" json:"remote_id,omitempty"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Customer is a CRM contact.
type Customer struct {
	ID        string                      `gorm:"primaryKey;size:36" json:"id"`
	UserID    string                      `gorm:"size:64;not null;index;uniqueIndex:idx_customers_user_phone,priority:1" json:"user_id"`
	Name      string                      `gorm:"size:255;not null" json:"name"`
	Email     string                      `gorm:"size:255;index" json:"email,omitempty"`
	Phone     string                      `gorm:"size:32;not null;uniqueIndex:idx_customers_user_phone,priority:2" json:"phone"`
	Company   string                      `gorm:"size:255" json:"company,omitempty"`
	Status    string                      `gorm:"size:16;not null;index" json:"status"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	Notes     string                      `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Message is an outbound message sent through a WhatsApp instance.
type Message struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:64;not null;index" json:"user_id"`
	InstanceName string    `gorm:"size:128;not null;index" json:"instance_name"`
	CustomerID   *string   `gorm:"size:36;index" json:"customer_id,omitempty"`
	Recipient    string    `gorm:"size:32;not null" json:"recipient"`
	Body         string    `gorm:"type:text;not null" json:"body"`
	Direction    string    `gorm:"size:16;not null;comment:outbound or inbound" json:"direction"`
	Status       string    `gorm:"size:16;not null;index;comment:sent or failed" json:"status"`
	RemoteID     string    `gorm:"size:128;comment:Message id assigned by the gateway" json:"remote_id,omitempty"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Payment is a charge created through one of the configured payment gateways.
type Payment struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:64;not null;index" json:"user_id"`
	CustomerID  *string   `gorm:"size:36;index" json:"customer_id,omitempty"`
	Gateway     string    `gorm:"size:32;not null;comment:pix, stripe or mercado_pago" json:"gateway"`
	Amount      int64     `gorm:"not null;comment:Amount in cents" json:"amount"`
	Currency    string    `gorm:"size:3;not null" json:"currency"`
	Status      string    `gorm:"size:16;not null;index" json:"status"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ExternalID  string    `gorm:"size:128" json:"external_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&IntegrationConfig{},
		&WhatsAppInstance{},
		&Workflow{},
		&Customer{},
		&Message{},
		&Payment{},
	}
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (m *IntegrationConfig) BeforeCreate(*gorm.DB) error { newID(&m.ID); return nil }
func (m *WhatsAppInstance) BeforeCreate(*gorm.DB) error  { newID(&m.ID); return nil }
func (m *Workflow) BeforeCreate(*gorm.DB) error          { newID(&m.ID); return nil }
func (m *Customer) BeforeCreate(*gorm.DB) error          { newID(&m.ID); return nil }
func (m *Message) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
func (m *Payment) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
