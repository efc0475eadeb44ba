package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shineum/dmail/internal/directory"
	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/provider"
	"github.com/shineum/dmail/internal/submit"
)

// BounceSubject is the subject of every bounce.
const BounceSubject = "error delivery failure"

// Defaults of the routing pipeline.
const (
	DefaultQueueSize = 500
	DefaultWorkers   = 8
)

var (
	metricDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmail_transfer_deliveries_total",
			Help: "Per-domain delivery attempts by result: delivered, unresolvable, unreachable, declined.",
		},
		[]string{"result"},
	)
	metricBounces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmail_transfer_bounces_total",
			Help: "Bounces generated for undeliverable messages.",
		},
	)
	metricBouncesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmail_transfer_bounces_dropped_total",
			Help: "Bounces that could not be delivered to the original sender, by reason: unresolvable, unreachable, declined.",
		},
		[]string{"reason"},
	)
	metricQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmail_transfer_queue_length",
			Help: "Messages waiting in the routing queue.",
		},
	)
)

// Deliverer submits a message to the mailbox server at addr.
type Deliverer interface {
	Deliver(ctx context.Context, addr string, msg *mail.Message) (submit.Result, error)
}

// Reporter receives one report per processed message, keyed by sender.
type Reporter interface {
	Report(sender string)
}

// RouterConfig holds the collaborators of a Router.
type RouterConfig struct {
	// Root is the root of the directory tree.
	Root directory.Remote

	// Deliverer replays messages to mailbox servers.
	Deliverer Deliverer

	// Mailer is the sender address of bounces.
	Mailer string

	// Reporter may be nil.
	Reporter Reporter

	// DeadLetter receives bounces that cannot be delivered. May be nil.
	DeadLetter provider.Provider

	QueueSize int
	Workers   int
}

// Router is the routing pipeline of a transfer server: a bounded queue of
// accepted messages drained by a fixed pool of forwarding workers.
type Router struct {
	cfg   RouterConfig
	queue chan *mail.Message
}

// NewRouter creates a Router. Zero queue size and worker count use the
// defaults.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Router{cfg: cfg, queue: make(chan *mail.Message, cfg.QueueSize)}
}

// Enqueue adds msg to the queue, blocking while the queue is full.
func (r *Router) Enqueue(ctx context.Context, msg *mail.Message) error {
	select {
	case r.queue <- msg:
		metricQueued.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards queued messages until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-r.queue:
					metricQueued.Dec()
					r.Forward(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
}

// Forward delivers msg once to every distinct recipient domain, carrying the
// full recipient list each time. Failures are collected into one bounce to
// the sender. Every processed message is reported by its sender, and a
// generated bounce by the mailer address.
func (r *Router) Forward(ctx context.Context, msg *mail.Message) {
	log := slog.With("from", msg.From, "to", msg.Recipients())

	var causes []string
	for _, domain := range msg.Domains() {
		if cause := r.deliverDomain(ctx, log, domain, msg); cause != "" {
			causes = append(causes, cause)
		}
	}
	r.report(msg.From)

	if len(causes) == 0 {
		return
	}
	if r.isMailer(msg.From) {
		// Never bounce a bounce.
		r.drop(ctx, msg, "declined", strings.Join(causes, "; "))
		return
	}

	b := r.bounce(msg, causes)
	metricBounces.Inc()
	log.Info("bouncing message", "causes", b.Data)
	r.deliverBounce(ctx, b)
	r.report(b.From)
}

// deliverDomain resolves domain and submits msg to its mailbox server. It
// returns the bounce cause, or "" if nothing is to be reported to the
// sender. Transport failures are logged only.
func (r *Router) deliverDomain(ctx context.Context, log *slog.Logger, domain string, msg *mail.Message) string {
	addr, err := directory.Resolve(ctx, r.cfg.Root, domain)
	if err != nil {
		metricDeliveries.WithLabelValues("unresolvable").Inc()
		log.Info("domain could not be resolved", "domain", domain, "error", err)
		return "domain could not be resolved: " + domain
	}

	res, err := r.cfg.Deliverer.Deliver(ctx, addr, msg)
	if err != nil {
		metricDeliveries.WithLabelValues("unreachable").Inc()
		log.Warn("delivery to mailbox server failed", "domain", domain, "addr", addr, "error", err)
		return ""
	}

	var causes []string
	if len(res.UnknownRecipients) > 0 {
		causes = append(causes, fmt.Sprintf("unknown recipient at %s: %s", domain, strings.Join(res.UnknownRecipients, " ")))
	}
	if !res.Delivered() {
		metricDeliveries.WithLabelValues("declined").Inc()
		causes = append(causes, fmt.Sprintf("declined by %s: %s", domain, res.Declined))
	} else {
		metricDeliveries.WithLabelValues("delivered").Inc()
		log.Debug("delivered", "domain", domain, "addr", addr)
	}
	return strings.Join(causes, "; ")
}

func (r *Router) bounce(msg *mail.Message, causes []string) *mail.Message {
	return &mail.Message{
		From:    r.cfg.Mailer,
		To:      []string{msg.From},
		Subject: BounceSubject,
		Data:    strings.Join(causes, "; "),
	}
}

// deliverBounce sends b to the sender's mailbox. A bounce that cannot be
// delivered is counted, logged and handed to the dead-letter provider; it is
// never bounced again.
func (r *Router) deliverBounce(ctx context.Context, b *mail.Message) {
	domain := mail.Domain(b.To[0])
	addr, err := directory.Resolve(ctx, r.cfg.Root, domain)
	if err != nil {
		r.drop(ctx, b, "unresolvable", err.Error())
		return
	}
	res, err := r.cfg.Deliverer.Deliver(ctx, addr, b)
	switch {
	case err != nil:
		r.drop(ctx, b, "unreachable", err.Error())
	case !res.Delivered():
		r.drop(ctx, b, "declined", res.Declined)
	case len(res.UnknownRecipients) > 0:
		r.drop(ctx, b, "declined", "unknown recipient "+strings.Join(res.UnknownRecipients, " "))
	}
}

func (r *Router) drop(ctx context.Context, msg *mail.Message, reason, detail string) {
	metricBouncesDropped.WithLabelValues(reason).Inc()
	slog.Warn("dropping undeliverable bounce", "to", msg.Recipients(), "reason", reason, "detail", detail)
	if r.cfg.DeadLetter == nil {
		return
	}
	if err := r.cfg.DeadLetter.Send(ctx, msg, reason); err != nil {
		slog.Error("dead-letter provider failed", "provider", r.cfg.DeadLetter.Name(), "error", err)
	}
}

func (r *Router) isMailer(addr string) bool {
	return strings.EqualFold(addr, r.cfg.Mailer)
}

func (r *Router) report(sender string) {
	if r.cfg.Reporter != nil {
		r.cfg.Reporter.Report(sender)
	}
}

// DefaultMailer returns the bounce sender for a server advertised at
// hostport. Hosts that would not form a valid address fall back to
// 127.0.0.1.
func DefaultMailer(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	addr := "mailer@" + host
	if !mail.ValidAddress(addr) {
		addr = "mailer@127.0.0.1"
	}
	return addr
}
