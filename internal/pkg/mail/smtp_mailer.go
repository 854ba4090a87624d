package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/provado-app/provado/internal/pkg/env"
)

// SendMail sends an HTML email via SMTP.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendSignupClaimMail sends the payment confirmation email carrying the
// single-use signup link for a paid order.
func SendSignupClaimMail(to, productName, signupURL string) error {
	subject := "Pagamento confirmado - complete seu cadastro"
	body := fmt.Sprintf(`
		<h2>Pagamento confirmado!</h2>
		<p>Recebemos o pagamento do seu acesso ao <strong>%s</strong>.</p>
		<p>Para concluir seu cadastro e liberar o acesso, use o link abaixo. O link vale por 7 dias e pode ser usado uma única vez.</p>
		<p><a href="%s">Concluir cadastro</a></p>
	`, productName, signupURL)
	return SendMail(to, subject, body)
}
