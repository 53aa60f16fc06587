package mail

import (
	"errors"
	"fmt"

	"github.com/lanternlabs/keyline/internal/users"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

var (
	// ErrMissingHost indicates SMTP delivery was requested without a host.
	ErrMissingHost = errors.New("mail: smtp host is required")
	// ErrMissingFrom indicates SMTP delivery was requested without a sender address.
	ErrMissingFrom = errors.New("mail: from address is required")
	// ErrUnsupportedOobMode indicates a ticket mode with no message template.
	ErrUnsupportedOobMode = errors.New("mail: unsupported oob mode")
)

// MailerConfig holds SMTP settings for out-of-band code delivery.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer delivers out-of-band action codes over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer constructs a Mailer from SMTP settings.
func NewMailer(cfg MailerConfig) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, ErrMissingHost
	}
	if cfg.From == "" {
		return nil, ErrMissingFrom
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}, nil
}

// SendOobCode emails a single-use action code to the given address. The
// message body names the action the code authorizes.
func (m *Mailer) SendOobCode(to string, mode users.OobMode, code string) error {
	subject, body, err := composeOobMessage(mode, code)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	return m.dialer.DialAndSend(msg)
}

func composeOobMessage(mode users.OobMode, code string) (string, string, error) {
	switch mode {
	case users.OobModeResetPassword:
		body := fmt.Sprintf(
			"We received a request to reset the password for your account.\n\n"+
				"Your password reset code is:\n\n    %s\n\n"+
				"If you did not request a reset, you can ignore this message.\n", code)
		return "Password reset request", body, nil
	case users.OobModeVerifyEmail:
		body := fmt.Sprintf(
			"Confirm this email address for your account with the code below.\n\n    %s\n", code)
		return "Verify your email address", body, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedOobMode, mode)
	}
}

// LogSender satisfies the server's sender contract while only logging. It
// backs deployments without SMTP settings.
type LogSender struct {
	Logger *zap.Logger
}

// SendOobCode records the delivery instead of performing it.
func (s LogSender) SendOobCode(to string, mode users.OobMode, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("oob code issued without smtp delivery",
		zap.String("to", to),
		zap.String("mode", string(mode)))
	return nil
}
