package certmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c360/certmgr/errors"
	"github.com/c360/certmgr/metric"
)

// DefaultReconfigSubject is the subject reconfiguration notices go to.
const DefaultReconfigSubject = "certmgr.reconfig"

// Publisher sends raw messages. *natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// ReconfigNotice tells the orchestrator which services must be redeployed
// to pick up changed certificates.
type ReconfigNotice struct {
	Services  []string  `json:"services"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes ReconfigNotices.
type Notifier struct {
	pub     Publisher
	subject string
	metrics *metric.Metrics
	now     func() time.Time
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierMetrics counts published notices.
func WithNotifierMetrics(metrics *metric.Metrics) NotifierOption {
	return func(n *Notifier) {
		n.metrics = metrics
	}
}

// WithNotifierClock overrides the notice timestamp source.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNotifier creates a Notifier. An empty subject selects
// DefaultReconfigSubject.
func NewNotifier(pub Publisher, subject string, opts ...NotifierOption) *Notifier {
	if subject == "" {
		subject = DefaultReconfigSubject
	}
	n := &Notifier{pub: pub, subject: subject, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subject returns the subject notices are published on.
func (n *Notifier) Subject() string {
	return n.subject
}

// Notify publishes one notice for services. Empty lists are not published.
func (n *Notifier) Notify(ctx context.Context, services []string) error {
	if len(services) == 0 {
		return nil
	}

	data, err := json.Marshal(ReconfigNotice{
		Services:  append([]string(nil), services...),
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "Notifier", "Notify", "encode notice")
	}

	err = n.pub.Publish(ctx, n.subject, data)
	if n.metrics != nil {
		n.metrics.RecordReconfigNotice(err)
	}
	if err != nil {
		return errors.WrapTransient(err, "Notifier", "Notify", "publish to "+n.subject)
	}
	return nil
}
