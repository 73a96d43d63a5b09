package provider

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends plain-text email through Amazon SES.
type SESProvider struct {
	client sesAPI
	from   string
}

func NewSESProvider(client sesAPI, from string) *SESProvider {
	return &SESProvider{client: client, from: from}
}

func (p *SESProvider) SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error) {
	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return nil, providerErr("ses", "send email", err)
	}

	return &Receipt{
		ID:        aws.ToString(out.MessageId),
		Provider:  "ses",
		Status:    "sent",
		Timestamp: time.Now().UTC(),
	}, nil
}

// compile-time check
var _ EmailSender = (*SESProvider)(nil)
