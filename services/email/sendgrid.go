package emailsvc

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rpconcours/concours/core"
)

var (
	host        = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
	maxAttempts = 3
	retryDelay  = time.Second
)

type sendgridService struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	return &sendgridService{
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

// SendMessages renders & sends the messages in the background.
// Each recipient gets a personalization of its own: candidates never see each other's address.
func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	if svc.key == "" {
		svc.logger.Warn("sendgrid: no API key set, dropping messages", map[string]interface{}{"count": len(messages)})
		return
	}
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(); err != nil {
				svc.logger.Error("rendering email", errors.Wrap(err, msg.TemplateName))
				return
			}
			if msg.HasRecipients() && msg.HasContent() {
				if err := svc.send(svc.prepare(*msg)); err != nil {
					svc.logger.Error("sending email", err, map[string]interface{}{"template": msg.TemplateName})
				}
			}
		}()
	}
}

func (svc sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)

	for _, to := range msg.To {
		p := sgmail.NewPersonalization()
		p.Subject = svc.subjPrefix + msg.Subject
		p.AddTos(sgEmail(to))
		for _, cc := range msg.Cc {
			p.AddCCs(sgEmail(cc))
		}
		for _, bcc := range msg.Bcc {
			p.AddBCCs(sgEmail(bcc))
		}
		m.AddPersonalizations(p)
	}

	if msg.TemplateName != "" {
		m.AddCategories(msg.TemplateName)
	}
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

// send posts the mail, retrying while rate limited or when sendgrid fails on its side.
func (svc sendgridService) send(m *sgmail.SGMailV3) error {
	body := sgmail.GetRequestBody(m)
	for attempt := 1; ; attempt++ {
		req := sendgrid.GetRequest(svc.key, endpoint, host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgrid.API(req)
		if err != nil {
			return errors.Wrap(err, "sendgrid request")
		}
		retry := res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError
		if retry && attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * retryDelay)
			continue
		}
		if res.StatusCode >= http.StatusBadRequest {
			return errors.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
		}
		return nil
	}
}
