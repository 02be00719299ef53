package notify

import (
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, pass), from: from}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// LogMailer writes mail to the log instead of sending it. Used when SMTP is
// not configured so verification codes are still visible in development.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "mailer").Logger()}
}

func (m *LogMailer) Send(to, subject, body string) error {
	m.log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email not sent: SMTP disabled")
	return nil
}

type ExpoPusher struct {
	client *expo.PushClient
}

func NewExpoPusher() *ExpoPusher {
	return &ExpoPusher{client: expo.NewPushClient(nil)}
}

// ValidatePushToken checks the ExponentPushToken[...] format.
func ValidatePushToken(token string) error {
	_, err := expo.NewExponentPushToken(token)
	return err
}

func (p *ExpoPusher) Push(tokens []string, title, body string, data map[string]string) ([]string, error) {
	var validTokens []expo.ExponentPushToken
	var invalidTokens []string

	for _, tokenString := range tokens {
		pushToken, err := expo.NewExponentPushToken(tokenString)
		if err != nil {
			invalidTokens = append(invalidTokens, tokenString)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}

	if len(validTokens) == 0 {
		return invalidTokens, fmt.Errorf("no valid push tokens found")
	}

	response, err := p.client.Publish(&expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     data,
	})
	if err != nil {
		return invalidTokens, fmt.Errorf("failed to publish notification: %v", err)
	}

	if validationErr := response.ValidateResponse(); validationErr != nil {
		if _, ok := validationErr.(*expo.DeviceNotRegisteredError); ok {
			invalidTokens = append(invalidTokens, tokenStrings(validTokens)...)
		}
		return invalidTokens, fmt.Errorf("notification validation failed: %v", validationErr)
	}

	return invalidTokens, nil
}

func tokenStrings(tokens []expo.ExponentPushToken) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = string(t)
	}
	return out
}
