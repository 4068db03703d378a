package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/kmoreau/plugsched/core/events"
	"github.com/kmoreau/plugsched/infra/logger"
)

// EmailNotifier turns engine events into emails. Failures are logged and
// swallowed so notification problems never touch schedule state.
type EmailNotifier struct {
	mailer *Mailer
	loc    *time.Location
	log    logger.Logger
}

// NewEmailNotifier wires a notifier on top of the mailer. Times in emails
// are rendered in loc.
func NewEmailNotifier(mailer *Mailer, loc *time.Location) *EmailNotifier {
	if loc == nil {
		loc = time.Local
	}
	return &EmailNotifier{mailer: mailer, loc: loc, log: logger.New("notifier")}
}

// NotifyExecution emails the outcome of a finished schedule entry.
func (n *EmailNotifier) NotifyExecution(ev events.ExecutionEvent) {
	name := ev.Entry.DeviceName
	if name == "" {
		name = ev.Entry.DeviceAddress
	}
	state := "OFF"
	if ev.Entry.DesiredState {
		state = "ON"
	}

	var subject, body string
	if ev.Err == nil {
		subject = fmt.Sprintf("Plug %s scheduled %s executed", name, state)
		body = renderExecutionBody(name, state, ev, n.loc)
	} else {
		subject = fmt.Sprintf("Plug %s schedule failed", name)
		body = renderFailureBody(name, state, ev, n.loc)
	}
	if err := n.mailer.Send(subject, body); err != nil {
		n.log.Errorf("Failed to send execution email [device=%s]: %v", ev.Entry.DeviceAddress, err)
	}
}

// NotifyDailyPlan emails the day's summary with the price chart attached.
func (n *EmailNotifier) NotifyDailyPlan(ev events.DailyPlanEvent) {
	var attachments []Attachment
	chart, err := RenderPriceChart(ev)
	if err != nil {
		n.log.Errorf("Failed to render price chart: %v", err)
	} else {
		attachments = append(attachments, Attachment{
			Filename:    "prices.html",
			ContentType: "text/html; charset=utf-8",
			Data:        chart,
		})
	}
	subject := fmt.Sprintf("Schedule for %s", ev.Date.Format("Jan 02, 2006"))
	if err := n.mailer.Send(subject, renderDailyPlanBody(ev, n.loc), attachments...); err != nil {
		n.log.Errorf("Failed to send daily summary email: %v", err)
	}
}

func renderExecutionBody(name, state string, ev events.ExecutionEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s switched %s</h2>", name, state)
	fmt.Fprintf(&b, "<p>Executed at %s (%s schedule).</p>",
		ev.Entry.ExecutedAt.In(loc).Format("Jan 02, 15:04"), ev.Entry.Origin)
	if ev.Entry.Duration > 0 {
		opposite := "ON"
		if ev.Entry.DesiredState {
			opposite = "OFF"
		}
		fmt.Fprintf(&b, "<p>Will turn %s in %s.</p>", opposite, formatDuration(ev.Entry.Duration))
	}
	return b.String()
}

func renderFailureBody(name, state string, ev events.ExecutionEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s could not be switched %s</h2>", name, state)
	fmt.Fprintf(&b, "<p>Target time: %s</p>", ev.Entry.TargetTime.In(loc).Format("Jan 02, 15:04"))
	fmt.Fprintf(&b, "<p>Attempts: %d</p>", ev.Entry.Attempts)
	fmt.Fprintf(&b, "<p>Last error: %s</p>", ev.Entry.LastError)
	return b.String()
}

func renderDailyPlanBody(ev events.DailyPlanEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Schedule for %s</h2>", ev.Date.Format("Jan 02, 2006"))
	b.WriteString("<table border=\"1\" cellpadding=\"4\"><tr><th>Device</th><th>Windows</th><th>Total</th></tr>")
	for _, plan := range ev.Plans {
		name := plan.Device.Name
		if name == "" {
			name = plan.Device.Address
		}
		var total time.Duration
		var slots []string
		for _, w := range plan.Windows {
			total += w.Duration
			slots = append(slots, fmt.Sprintf("%s (%s)",
				w.Start.In(loc).Format("15:04"), formatDuration(w.Duration)))
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
			name, strings.Join(slots, ", "), formatDuration(total))
	}
	b.WriteString("</table>")
	return b.String()
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
