package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/ClareAI/astra-call-agent/pkg/redis"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bindingCacheTTL = 10 * time.Minute

// CallRegistry persists call records and their conversation log. A short-TTL
// redis layer sits in front of the TTS binding lookup so the greeting path
// does not block on Postgres.
type CallRegistry struct {
	db    *gorm.DB
	cache *redis.RedisService
}

// NewCallRegistry creates a registry. The redis service may be nil; lookups
// then go straight to the database.
func NewCallRegistry(db *gorm.DB, cache *redis.RedisService) *CallRegistry {
	return &CallRegistry{db: db, cache: cache}
}

// CreateRinging registers a new call in ringing state, before the media
// stream connects.
func (r *CallRegistry) CreateRinging(ctx context.Context, record *CallRecord) error {
	if record.CallSid == "" {
		return fmt.Errorf("call sid cannot be empty")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = CallStatusRinging
	now := time.Now()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// GetByCallSid retrieves a call record; a missing record returns (nil, nil).
func (r *CallRegistry) GetByCallSid(ctx context.Context, callSid string) (*CallRecord, error) {
	var record CallRecord
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSid).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

// MostRecentRinging returns the newest ringing call, or nil when none exists.
// It backs the best-effort call binding for streams that arrive without a
// call identifier.
func (r *CallRegistry) MostRecentRinging(ctx context.Context) (*CallRecord, error) {
	var record CallRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", CallStatusRinging).
		Order("started_at DESC").
		Limit(1).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find ringing call: %w", err)
	}
	return &record, nil
}

// EnsureCall returns the record for callSid, creating one when the call was
// not originated by a real telephony webhook (simulator sessions).
func (r *CallRegistry) EnsureCall(ctx context.Context, callSid string) (*CallRecord, error) {
	record, err := r.GetByCallSid(ctx, callSid)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	record = &CallRecord{
		ID:        uuid.New().String(),
		CallSid:   callSid,
		Status:    CallStatusInProgress,
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}
	return record, nil
}

// Update applies the non-zero fields of req onto the record.
func (r *CallRegistry) Update(ctx context.Context, callSid string, req *UpdateCallRequest) (*CallRecord, error) {
	record, err := r.GetByCallSid(ctx, callSid)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("call %s not found", callSid)
	}

	if err := copier.CopyWithOption(record, req, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to apply call update: %w", err)
	}
	record.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("failed to update call record: %w", err)
	}
	return record, nil
}

// MarkCompleted finalizes the record when the session closes.
func (r *CallRegistry) MarkCompleted(ctx context.Context, callSid string) (*CallRecord, error) {
	record, err := r.GetByCallSid(ctx, callSid)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	record.Status = CallStatusCompleted
	record.EndedAt = time.Now()
	record.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("failed to complete call record: %w", err)
	}
	return record, nil
}

// TTSBindingFor resolves the per-call synthesis configuration, consulting the
// redis cache first. Records without a binding return (nil, nil).
func (r *CallRegistry) TTSBindingFor(ctx context.Context, callSid string) (*TTSBinding, error) {
	if r.cache != nil {
		key := r.cache.GenerateKey(redis.CALL_TTS_BINDING, callSid)
		if val, err := r.cache.GetValue(ctx, key); err == nil {
			var binding TTSBinding
			if jsonErr := json.Unmarshal([]byte(val), &binding); jsonErr == nil {
				return &binding, nil
			}
		} else if err != redis.ErrKeyNotExist {
			logger.Base().Warn("tts binding cache read failed", zap.String("call_sid", callSid), zap.Error(err))
		}
	}

	record, err := r.GetByCallSid(ctx, callSid)
	if err != nil {
		return nil, err
	}
	if record == nil || record.TTSEngine == "" {
		return nil, nil
	}

	binding := &TTSBinding{Engine: record.TTSEngine, Voice: record.TTSVoice, Speed: record.TTSSpeed}
	if r.cache != nil {
		if data, err := json.Marshal(binding); err == nil {
			key := r.cache.GenerateKey(redis.CALL_TTS_BINDING, callSid)
			if err := r.cache.SetValue(ctx, key, string(data), bindingCacheTTL); err != nil {
				logger.Base().Warn("tts binding cache write failed", zap.String("call_sid", callSid), zap.Error(err))
			}
		}
	}
	return binding, nil
}

// AppendMessage adds one entry to the persisted conversation log.
func (r *CallRegistry) AppendMessage(ctx context.Context, callSid, role, content string) error {
	msg := &CallMessage{
		ID:        uuid.New().String(),
		CallSid:   callSid,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append call message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit log entries in chronological order.
func (r *CallRegistry) RecentMessages(ctx context.Context, callSid string, limit int) ([]*CallMessage, error) {
	var messages []*CallMessage
	err := r.db.WithContext(ctx).
		Where("call_sid = ?", callSid).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get call messages: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
