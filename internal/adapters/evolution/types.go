package evolution

// Connection states reported by the gateway's connectionState endpoint.
const (
	StateOpen       = "open"
	StateClose      = "close"
	StateConnecting = "connecting"
)

// CreateInstanceRequest is the body of POST /instance/create.
type CreateInstanceRequest struct {
	InstanceName string          `json:"instanceName"`
	Token        string          `json:"token,omitempty"`
	Number       string          `json:"number,omitempty"`
	QRCode       bool            `json:"qrcode"`
	Integration  string          `json:"integration,omitempty"`
	Webhook      *WebhookSetting `json:"webhook,omitempty"`
}

// WebhookSetting configures where the gateway posts instance events.
type WebhookSetting struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
	Events   []string `json:"events,omitempty"`
}

// InstanceRef identifies an instance in gateway responses.
type InstanceRef struct {
	InstanceName string `json:"instanceName"`
	InstanceID   string `json:"instanceId,omitempty"`
	Status       string `json:"status,omitempty"`
	State        string `json:"state,omitempty"`
	Owner        string `json:"owner,omitempty"`
	ProfileName  string `json:"profileName,omitempty"`
}

// QRCode is the pairing artifact. Base64 is usually a data URL; Code is the
// raw string encoded in the QR; PairingCode is the 8-character phone code.
type QRCode struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// Empty reports whether the gateway returned no pairing payload, which is
// what it does for an instance that is already connected.
func (q *QRCode) Empty() bool {
	return q == nil || (q.Code == "" && q.Base64 == "" && q.PairingCode == "")
}

// CreateInstanceResponse is returned by POST /instance/create.
type CreateInstanceResponse struct {
	Instance InstanceRef `json:"instance"`
	Hash     interface{} `json:"hash,omitempty"` // string in v1, {"apikey": ...} in v2
	QRCode   *QRCode     `json:"qrcode,omitempty"`
}

// ConnectionStateResponse is returned by GET /instance/connectionState/{name}.
type ConnectionStateResponse struct {
	Instance InstanceRef `json:"instance"`
}

// InstanceInfo is one element of GET /instance/fetchInstances. Gateway
// versions disagree on the shape, so both are accepted.
type InstanceInfo struct {
	Instance *InstanceRef `json:"instance,omitempty"`

	ID               string `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	OwnerJid         string `json:"ownerJid,omitempty"`
	ProfileName      string `json:"profileName,omitempty"`
	Number           string `json:"number,omitempty"`
}

// InstanceName returns the name regardless of response shape.
func (i InstanceInfo) InstanceName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Instance != nil {
		return i.Instance.InstanceName
	}
	return ""
}

// State returns the connection state regardless of response shape.
func (i InstanceInfo) State() string {
	if i.ConnectionStatus != "" {
		return i.ConnectionStatus
	}
	if i.Instance != nil {
		if i.Instance.State != "" {
			return i.Instance.State
		}
		return i.Instance.Status
	}
	return ""
}

// StatusResponse is the generic body of delete/logout.
type StatusResponse struct {
	Status   string `json:"status"`
	Error    bool   `json:"error"`
	Response struct {
		Message string `json:"message"`
	} `json:"response"`
}

// SendTextRequest is the body of POST /message/sendText/{name}.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}

// MessageKey identifies a message on the gateway.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// SendTextResponse is returned by POST /message/sendText/{name}.
type SendTextResponse struct {
	Key              MessageKey  `json:"key"`
	Status           string      `json:"status,omitempty"`
	MessageTimestamp interface{} `json:"messageTimestamp,omitempty"`
}

type setWebhookRequest struct {
	Webhook WebhookSetting `json:"webhook"`
}
