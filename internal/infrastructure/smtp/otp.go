package smtp

import (
	"context"
	"fmt"

	"github.com/go-identity-core/internal/application/otp"
)

var subjects = map[string]string{
	otp.NameEmailVerification: "Verify your email",
	otp.NamePasswordRecovery:  "Password recovery code",
}

// OTPNotifier emails passcodes to the account address.
type OTPNotifier struct {
	mailer Mailer
}

func NewOTPNotifier(m Mailer) *OTPNotifier {
	return &OTPNotifier{mailer: m}
}

func (n *OTPNotifier) DeliverOTP(_ context.Context, d otp.Delivery) error {
	subject, ok := subjects[d.Namespace]
	if !ok {
		subject = "Your one-time code"
	}
	body := fmt.Sprintf("Your code: %s\r\n\r\nIt expires in a few minutes. If you did not request it, ignore this email.", d.Code)
	if err := n.mailer.SendEmail(d.Email, subject, body); err != nil {
		return fmt.Errorf("send %s otp email: %w", d.Namespace, err)
	}
	return nil
}
