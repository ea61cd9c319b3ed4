package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
)

// SMTPNotifier 通过 SMTP 中继发送通知邮件
type SMTPNotifier struct {
	addr       string
	from       mail.Address
	auth       sasl.Client
	timeout    time.Duration
	requireTLS bool
	log        *zap.Logger
}

// defaultSendTimeout 未配置时单封通知的投递时限
const defaultSendTimeout = 10 * time.Second

// NewSMTPNotifier 创建 SMTP 通知器，Username 为空时不做认证
func NewSMTPNotifier(cfg *config.NotifyConfig, log *zap.Logger) (*SMTPNotifier, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid notify.from %q: %w", cfg.From, err)
	}

	n := &SMTPNotifier{
		addr:       cfg.SMTPAddr,
		from:       *from,
		timeout:    cfg.Timeout,
		requireTLS: cfg.RequireTLS,
		log:        log,
	}
	if n.timeout <= 0 {
		n.timeout = defaultSendTimeout
	}
	if cfg.Username != "" {
		n.auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	return n, nil
}

// Notify 组装并发送一封纯文本通知
func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Email == "" || domain.ValidateEmail(n.Email) != nil {
		return ErrNoRecipient
	}

	msg := s.compose(n, time.Now())
	if err := s.send(ctx, n.Email, msg); err != nil {
		return fmt.Errorf("send %s notification: %w", n.Template, err)
	}

	s.log.Debug("notification sent",
		zap.String("template", n.Template),
		zap.Int64("user_id", n.UserID),
	)
	return nil
}

// send 在 ctx 与 timeout 的时限内完成一次投递
//
// 连接随 ctx 结束被关闭，阻塞在读写上的 SMTP 命令会立即返回。
// requireTLS 为 true 时先做 STARTTLS，服务器不支持则失败；否则按明文投递。
func (s *SMTPNotifier) send(ctx context.Context, rcpt string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := s.newClient(conn)
	if err != nil {
		_ = conn.Close()
		return s.ctxErr(ctx, err)
	}
	defer client.Close()

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return s.ctxErr(ctx, err)
		}
	}
	if err := client.SendMail(s.from.Address, []string{rcpt}, bytes.NewReader(msg)); err != nil {
		return s.ctxErr(ctx, err)
	}
	return s.ctxErr(ctx, client.Quit())
}

func (s *SMTPNotifier) newClient(conn net.Conn) (*gosmtp.Client, error) {
	if s.requireTLS {
		host, _, err := net.SplitHostPort(s.addr)
		if err != nil {
			return nil, err
		}
		client, err := gosmtp.NewClientStartTLS(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err != nil {
			return nil, err
		}
		client.CommandTimeout = s.timeout
		client.SubmissionTimeout = s.timeout
		return client, nil
	}

	client := gosmtp.NewClient(conn)
	client.CommandTimeout = s.timeout
	client.SubmissionTimeout = s.timeout
	if err := client.Hello("mailroom"); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// ctxErr 连接因超时或取消被关闭时，返回更明确的 ctx 错误
func (s *SMTPNotifier) ctxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func (s *SMTPNotifier) compose(n Notification, now time.Time) []byte {
	to := mail.Address{Name: n.Name, Address: n.Email}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", n.subjectLine()))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@mailroom>\r\n", uuid.NewString())
	fmt.Fprintf(&buf, "X-Mailroom-Template: %s\r\n", n.Template)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(n.textBody())
	return buf.Bytes()
}
