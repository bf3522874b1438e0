package registry

import "time"

// CallStatus tracks a call record through its lifecycle.
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
)

// CallRecord is one row of the external call registry. The webhook creates
// it in ringing state before the media stream connects; sessions that were
// not originated by a real telephony call (simulator ids) are created on
// first use with create-or-merge semantics.
type CallRecord struct {
	ID              string     `json:"id" gorm:"column:id;primaryKey"`
	CallSid         string     `json:"call_sid" gorm:"column:call_sid;unique"`
	AccountSid      string     `json:"account_sid" gorm:"column:account_sid"`
	FromNumber      string     `json:"from_number" gorm:"column:from_number"`
	ToNumber        string     `json:"to_number" gorm:"column:to_number"`
	Status          CallStatus `json:"status" gorm:"column:status;index"`
	TTSEngine       string     `json:"tts_engine" gorm:"column:tts_engine"`
	TTSVoice        string     `json:"tts_voice" gorm:"column:tts_voice"`
	TTSSpeed        float64    `json:"tts_speed" gorm:"column:tts_speed"`
	CapturedPurpose string     `json:"captured_purpose" gorm:"column:captured_purpose"`
	StartedAt       time.Time  `json:"started_at" gorm:"column:started_at;index"`
	EndedAt         time.Time  `json:"ended_at" gorm:"column:ended_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// Message roles on the persisted conversation log.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// CallMessage is one entry of the persisted conversation log.
type CallMessage struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey"`
	CallSid   string    `json:"call_sid" gorm:"column:call_sid;index"`
	Role      string    `json:"role" gorm:"column:role"`
	Content   string    `json:"content" gorm:"column:content"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (CallMessage) TableName() string {
	return "call_messages"
}

// TTSBinding is the per-call synthesis configuration.
type TTSBinding struct {
	Engine string  `json:"engine"`
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
}

// UpdateCallRequest carries partial updates for a call record. Zero-valued
// fields are left untouched by the repository.
type UpdateCallRequest struct {
	Status          CallStatus `json:"status,omitempty"`
	TTSEngine       string     `json:"tts_engine,omitempty"`
	TTSVoice        string     `json:"tts_voice,omitempty"`
	TTSSpeed        float64    `json:"tts_speed,omitempty"`
	CapturedPurpose string     `json:"captured_purpose,omitempty"`
}
