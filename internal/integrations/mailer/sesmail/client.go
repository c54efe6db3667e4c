package sesmail

import (
	"context"
	"log/slog"

	"github.com/BearBump/TrackMail/internal/integrations/mailer"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/pkg/errors"
)

type sendEmailAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Client sends tracked mail through AWS SES v2.
type Client struct {
	api sendEmailAPI
	msg mailer.Message
}

// New loads AWS config for region. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies.
func New(ctx context.Context, region, accessKey, secretKey string, msg mailer.Message) (*Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &Client{api: sesv2.NewFromConfig(cfg), msg: msg}, nil
}

func newWithAPI(api sendEmailAPI, msg mailer.Message) *Client {
	return &Client{api: api, msg: msg}
}

func (c *Client) Send(ctx context.Context, recipients []string, trackingID string) error {
	out, err := c.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.msg.FromAddress()),
		Destination:      &types.Destination{ToAddresses: recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(c.msg.SubjectLine()), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(c.msg.HTML(trackingID)), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("tracking_id"), Value: aws.String(trackingID)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "ses send email")
	}
	slog.Debug("ses mail sent", "tracking_id", trackingID, "message_id", aws.ToString(out.MessageId))
	return nil
}
