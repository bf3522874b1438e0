package twilio

import (
	"fmt"

	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// RedirectService moves a live call to a new destination via the telephony
// provider's REST API. It backs the operator /transfer endpoint.
// If accountSID or authToken is empty the service is disabled and redirects
// fail with a clear error instead of a credential panic.
type RedirectService struct {
	client  *twilio.RestClient
	enabled bool
}

// NewRedirectService creates a redirect service.
func NewRedirectService(accountSID, authToken string) *RedirectService {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("twilio credentials not provided, call transfer disabled")
		return &RedirectService{enabled: false}
	}

	return &RedirectService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		enabled: true,
	}
}

// IsEnabled returns whether the service has credentials.
func (s *RedirectService) IsEnabled() bool {
	return s.enabled
}

// RedirectCall updates the live call to dial the target number. The media
// stream drops when the provider executes the new instructions; the session
// sees a normal stop event.
func (s *RedirectService) RedirectCall(callSid, target string) error {
	if !s.enabled {
		return fmt.Errorf("twilio redirect service is disabled")
	}

	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Dial>%s</Dial></Response>`, target)
	params := &api.UpdateCallParams{}
	params.SetTwiml(twiml)

	if _, err := s.client.Api.UpdateCall(callSid, params); err != nil {
		logger.Base().Error("failed to redirect call",
			zap.String("call_sid", callSid),
			zap.String("target", target),
			zap.Error(err))
		return fmt.Errorf("failed to redirect call %s: %w", callSid, err)
	}

	logger.Base().Info("call redirected",
		zap.String("call_sid", callSid),
		zap.String("target", target))
	return nil
}
