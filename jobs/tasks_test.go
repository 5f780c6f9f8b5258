package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/caseflow/caseflow/internal/jobs"
)

type captureSender struct {
	sent []SendEmailPayload
	err  error
}

func (c *captureSender) Send(_ context.Context, msg SendEmailPayload) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func TestNewSendEmailTaskRequiresRecipient(t *testing.T) {
	_, err := NewSendEmailTask(SendEmailPayload{Subject: "hi"})
	require.Error(t, err)

	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "hi", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSendEmail, task.Type())
	var payload SendEmailPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "a@example.com", payload.To)
}

func TestMailJobDelivers(t *testing.T) {
	sender := &captureSender{}
	job := &MailJob{Sender: sender, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com", Subject: "Reset", Body: "link"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Reset", sender.sent[0].Subject)
}

func TestMailJobSkipsMalformedPayload(t *testing.T) {
	job := &MailJob{Sender: &captureSender{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestMailJobReturnsSenderError(t *testing.T) {
	cause := errors.New("relay down")
	job := &MailJob{Sender: &captureSender{err: cause}}
	task, err := NewSendEmailTask(SendEmailPayload{To: "a@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), cause)
}

func TestSMTPSenderFormatsMessage(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@caseflow.local"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	sender.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := sender.Send(context.Background(), SendEmailPayload{To: "a@example.com", Subject: "Line\r\nBcc: x@evil", Body: "one\ntwo"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1025", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Line  Bcc: x@evil\r\n")
	assert.Contains(t, gotMsg, "one\r\ntwo")
	assert.Nil(t, sender.auth)
}
