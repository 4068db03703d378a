package notify

import (
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmoreau/plugsched/core/events"
	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/infra/logger"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func captureMailer(t *testing.T, cfg Config, sent *[]capturedMail, sendErr error) *Mailer {
	t.Helper()
	m, err := NewMailer(cfg)
	require.NoError(t, err)
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		*sent = append(*sent, capturedMail{addr: addr, from: from, to: to, msg: msg})
		return nil
	}
	m.log = logger.NopLogger{}
	return m
}

func enabledConfig() Config {
	return Config{
		Enabled: true,
		Host:    "postfix",
		From:    "plugsched@example.com",
		To:      []string{"owner@example.com"},
	}
}

func TestSendBuildsMultipartMessage(t *testing.T) {
	var sent []capturedMail
	m := captureMailer(t, enabledConfig(), &sent, nil)

	err := m.Send("hello", "<p>body</p>", Attachment{
		Filename:    "chart.html",
		ContentType: "text/html; charset=utf-8",
		Data:        []byte("<div>chart</div>"),
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)

	mail := sent[0]
	assert.Equal(t, "postfix:25", mail.addr)
	assert.Equal(t, "plugsched@example.com", mail.from)
	assert.Equal(t, []string{"owner@example.com"}, mail.to)

	msg := string(mail.msg)
	assert.Contains(t, msg, "Subject: hello")
	assert.Contains(t, msg, "multipart/related")
	assert.Contains(t, msg, "<p>body</p>")
	assert.Contains(t, msg, `filename="chart.html"`)
}

func TestSendDisabledIsNoop(t *testing.T) {
	var sent []capturedMail
	m := captureMailer(t, Config{Enabled: false}, &sent, nil)

	require.NoError(t, m.Send("subject", "body"))
	assert.Empty(t, sent)
}

func TestMailerValidation(t *testing.T) {
	_, err := NewMailer(Config{Enabled: true})
	assert.Error(t, err)
	_, err = NewMailer(Config{Enabled: true, Host: "h", From: "a@b"})
	assert.Error(t, err)
}

func TestNotifyExecutionSwallowsSendError(t *testing.T) {
	var sent []capturedMail
	m := captureMailer(t, enabledConfig(), &sent, errors.New("smtp down"))
	n := NewEmailNotifier(m, time.UTC)
	n.log = logger.NopLogger{}

	// Must not panic or propagate.
	n.NotifyExecution(events.ExecutionEvent{
		Entry: model.ScheduleEntry{DeviceName: "heater", DesiredState: true},
		Final: true,
	})
	assert.Empty(t, sent)
}

func TestNotifyExecutionSuccessAndFailureSubjects(t *testing.T) {
	var sent []capturedMail
	m := captureMailer(t, enabledConfig(), &sent, nil)
	n := NewEmailNotifier(m, time.UTC)

	entry := model.ScheduleEntry{
		DeviceName:   "heater",
		DesiredState: true,
		ExecutedAt:   time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
		Duration:     2 * time.Hour,
	}
	n.NotifyExecution(events.ExecutionEvent{Entry: entry, Final: true})

	failed := entry
	failed.Attempts = 3
	failed.LastError = "ack timeout"
	n.NotifyExecution(events.ExecutionEvent{Entry: failed, Final: true, Err: errors.New("ack timeout")})

	require.Len(t, sent, 2)
	assert.Contains(t, string(sent[0].msg), "scheduled ON executed")
	assert.Contains(t, string(sent[0].msg), "Will turn OFF in 2h")
	assert.Contains(t, string(sent[1].msg), "schedule failed")
	assert.Contains(t, string(sent[1].msg), "ack timeout")
}

func TestNotifyDailyPlanAttachesChart(t *testing.T) {
	var sent []capturedMail
	m := captureMailer(t, enabledConfig(), &sent, nil)
	n := NewEmailNotifier(m, time.UTC)

	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	n.NotifyDailyPlan(events.DailyPlanEvent{
		Date: date,
		Prices: model.PriceCurve{
			{Hour: 0, Price: 0.1},
			{Hour: 1, Price: 0.05},
		},
		Plans: []events.DevicePlan{{
			Device:  model.DeviceConfig{Name: "heater", Address: "a"},
			Windows: []model.Window{{Start: date.Add(time.Hour), Duration: time.Hour}},
		}},
	})

	require.Len(t, sent, 1)
	msg := string(sent[0].msg)
	assert.Contains(t, msg, "Schedule for Jun 01, 2025")
	assert.Contains(t, msg, `filename="prices.html"`)
	assert.Contains(t, msg, "heater")
}
