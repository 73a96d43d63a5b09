package provider

import (
	"context"
	"errors"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type twilioAPI interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
}

// TwilioProvider sends SMS and places outbound voice calls.
//
// The Twilio SDK takes no context, so each request runs in its own goroutine
// and the caller stops waiting when ctx is done. The request itself may still
// complete on Twilio's side.
type TwilioProvider struct {
	api  twilioAPI
	from string
}

func NewTwilioProvider(accountSID, authToken, from string) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{api: client.Api, from: from}
}

func newTwilioProviderWithAPI(api twilioAPI, from string) *TwilioProvider {
	return &TwilioProvider{api: api, from: from}
}

func (p *TwilioProvider) SendSMS(ctx context.Context, msg SMSMessage) (*Receipt, error) {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(p.sender(msg.From))
	params.SetBody(msg.Body)

	resp, err := withContext(ctx, func() (*twilioapi.ApiV2010Message, error) {
		return p.api.CreateMessage(params)
	})
	if err != nil {
		return nil, providerErr("twilio", "create message", err)
	}
	if resp == nil || resp.Sid == nil {
		return nil, providerErr("twilio", "create message", errors.New("response has no sid"))
	}

	return &Receipt{ID: *resp.Sid, Provider: "twilio", Status: "queued", Timestamp: time.Now().UTC()}, nil
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req CallRequest) (*Receipt, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(p.sender(req.From))
	params.SetUrl(req.ScriptURL)
	params.SetRecord(req.Record)

	resp, err := withContext(ctx, func() (*twilioapi.ApiV2010Call, error) {
		return p.api.CreateCall(params)
	})
	if err != nil {
		return nil, providerErr("twilio", "create call", err)
	}
	if resp == nil || resp.Sid == nil {
		return nil, providerErr("twilio", "create call", errors.New("response has no sid"))
	}

	return &Receipt{ID: *resp.Sid, Provider: "twilio", Status: "queued", Timestamp: time.Now().UTC()}, nil
}

func (p *TwilioProvider) sender(from string) string {
	if from != "" {
		return from
	}
	return p.from
}

func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// compile-time check
var (
	_ SMSSender = (*TwilioProvider)(nil)
	_ Caller    = (*TwilioProvider)(nil)
)
