package notify

import (
	"context"
	"fmt"
	"net"

	"github.com/nikoksr/notify/service/mail"
	"github.com/nikoksr/notify/service/matrix"
	"maunium.net/go/mautrix/id"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
)

func (d *Dispatcher) defaultFactory(ctx context.Context, service, targetID string) (Sender, error) {
	n := d.cfg.Notifications
	switch service {
	case ServiceMail:
		if t := n.Mail[targetID]; t != nil {
			return d.mailSender(ctx, t)
		}
	case ServiceMatrix:
		if t := n.Matrix[targetID]; t != nil {
			return d.matrixSender(ctx, t)
		}
	case ServiceKafka:
		if t := n.Kafka[targetID]; t != nil {
			return newKafkaSender(t), nil
		}
	}
	return nil, errors.New(errors.ErrNotify,
		fmt.Sprintf("Notification target '%s.%s' is not declared", service, targetID), "")
}

// mailSender authenticates over SMTP when a username is set.
func (d *Dispatcher) mailSender(ctx context.Context, t *config.MailTarget) (Sender, error) {
	password, err := d.resolve(ctx, t.Password)
	if err != nil {
		return nil, err
	}
	m := mail.New(t.SenderAddress, net.JoinHostPort(t.Host, t.Port))
	if t.Username != "" {
		m.AuthenticateSMTP("", t.Username, password, t.Host)
	}
	m.AddReceivers(t.To...)
	m.BodyFormat(mail.PlainText)
	return m, nil
}

func (d *Dispatcher) matrixSender(ctx context.Context, t *config.MatrixTarget) (Sender, error) {
	token, err := d.resolve(ctx, t.AccessToken)
	if err != nil {
		return nil, err
	}
	m, err := matrix.New(id.UserID(t.UserID), id.RoomID(t.RoomID), t.Homeserver, token)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Can't create a Matrix client for %s", t.Homeserver),
			"Check homeserver, user-id and access-token")
	}
	return m, nil
}

func (d *Dispatcher) resolve(ctx context.Context, ref string) (string, error) {
	if d.secrets == nil || ref == "" {
		return ref, nil
	}
	return d.secrets.Resolve(ctx, ref)
}
