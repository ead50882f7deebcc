package mailer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"newsletterapp/internal/newsletter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const charset = "UTF-8"

// sesAPI часть клиента SES, которой пользуется отправитель
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES отправка писем через Amazon SES v2
type SES struct {
	client sesAPI
}

// NewSES создает клиента SES. Без ключей используется стандартная цепочка учетных данных AWS
func NewSES(ctx context.Context, region, accessKey, secretKey string) (*SES, error) {
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
		return nil, fmt.Errorf("не удалось загрузить конфигурацию AWS: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg)}, nil
}

// Send отправляет письмо и возвращает MessageId от SES. Служебные заголовки
// передаются тегами письма и возвращаются в событиях доставки
func (s *SES) Send(ctx context.Context, msg newsletter.Message) (string, error) {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charset)}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String(charset)}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
				Body:    body,
			},
		},
		EmailTags: emailTags(msg.Headers),
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ошибка SES: %w", err)
	}
	if out.MessageId == nil || *out.MessageId == "" {
		return "", errors.New("SES не вернул MessageId")
	}
	return *out.MessageId, nil
}

// emailTags заголовки в теги SES в стабильном порядке
func emailTags(headers map[string]string) []types.MessageTag {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]types.MessageTag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, types.MessageTag{Name: aws.String(tagName(k)), Value: aws.String(headers[k])})
	}
	return tags
}

// tagName имя тега SES допускает только буквы, цифры, '_' и '-'
func tagName(header string) string {
	out := make([]rune, 0, len(header))
	for _, r := range header {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
