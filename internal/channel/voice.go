package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// RingTimeoutSeconds is how long the provider lets the phone ring before
// abandoning an unanswered call.
const RingTimeoutSeconds = 30

// TwilioCaller places voice calls through the Twilio REST API.
type TwilioCaller struct {
	client *twilio.RestClient
}

func NewTwilioCaller(accountSID, authToken string) *TwilioCaller {
	return &TwilioCaller{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

func (t *TwilioCaller) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetTwiml(speakTwiml(req.Message))
	params.SetTimeout(RingTimeoutSeconds)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent([]string{"completed"})
		params.SetStatusCallbackMethod("POST")
	}

	call, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("place call to %s: %w", req.To, err)
	}
	if call.Sid == nil {
		return "", errors.New("place call: response carried no sid")
	}
	return *call.Sid, nil
}

func (t *TwilioCaller) CallStatus(ctx context.Context, ref string) (CallResult, error) {
	call, err := t.client.Api.FetchCall(ref, &api.FetchCallParams{})
	if err != nil {
		return CallResult{}, fmt.Errorf("fetch call %s: %w", ref, err)
	}

	var res CallResult
	if call.Status != nil {
		res.Status = *call.Status
	}
	if call.Duration != nil {
		if d, err := strconv.Atoi(*call.Duration); err == nil {
			res.Duration = d
		}
	}
	return res, nil
}

// speakTwiml wraps the reminder text in a <Say> instruction, escaping any
// XML-significant characters.
func speakTwiml(message string) string {
	escaped := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	).Replace(message)
	return `<Response><Say voice="alice">` + escaped + `</Say></Response>`
}
