package email

import (
	"context"
	"fmt"
	"html"

	"coursemarket/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const defaultHost = "https://api.sendgrid.com"

type EmailSender struct {
	apiKey      string
	senderEmail string
	senderName  string
	frontend    string
	host        string
	log         zerolog.Logger
}

func NewEmailSender(apiKey, senderEmail, frontend string, log zerolog.Logger) *EmailSender {
	return &EmailSender{
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  "CourseMarket",
		frontend:    frontend,
		host:        defaultHost,
		log:         log,
	}
}

// WithHost переключает API SendGrid на другой адрес (тесты).
func (s *EmailSender) WithHost(host string) *EmailSender {
	s.host = host
	return s
}

// SendPaymentReceipt отправляет чек об оплате курса. Без ключа письмо только логируется.
func (s *EmailSender) SendPaymentReceipt(ctx context.Context, user *domain.User, course *domain.Course, p *domain.Payment) error {
	if s.apiKey == "" {
		s.log.Debug().Str("to", user.Email).Str("payment_id", p.ID.String()).Msg("sendgrid disabled, receipt skipped")
		return nil
	}

	amount := fmt.Sprintf("%d.%02d %s", p.AmountCents/100, p.AmountCents%100, p.Currency)
	link := fmt.Sprintf("%s/courses/%s", s.frontend, course.Slug)

	from := mail.NewEmail(s.senderName, s.senderEmail)
	to := mail.NewEmail(user.Username, user.Email)
	plain := fmt.Sprintf("Оплата курса %q на сумму %s прошла успешно. Курс: %s", course.Title, amount, link)
	body := fmt.Sprintf(`<html><body>
<h3>Спасибо за покупку!</h3>
<p>Оплата курса <b>%s</b> на сумму %s прошла успешно.</p>
<p><a href="%s">Перейти к курсу</a></p>
</body></html>`, html.EscapeString(course.Title), html.EscapeString(amount), html.EscapeString(link))

	msg := mail.NewSingleEmail(from, "Чек об оплате: "+course.Title, to, plain, body)

	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return err
	}
	// SendGrid возвращает 202 при успехе
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}
