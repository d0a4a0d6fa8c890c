// Package renewal runs one certificate renewal pass: it exposes the internal
// HTTP service through the router's NAT rule, renews every certificate that is
// due and closes the rule again.
package renewal

import (
	"context"
	"time"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/numtide/cert-renewer/certmanager"
	"github.com/numtide/cert-renewer/config"
	"github.com/numtide/cert-renewer/event"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrAddressNotFound is logged, never returned: the rule keeps its last address.
var ErrAddressNotFound = errors.New("no address found on interface")

const (
	// teardownTimeout bounds NAT teardown once the run context is already gone.
	teardownTimeout = 30 * time.Second

	// notifyTimeout bounds delivery of an outcome after the run was cancelled.
	notifyTimeout = 30 * time.Second
)

type outcome int

const (
	renewed outcome = iota
	failed
	interrupted
)

// Observer is told about every renewal attempt once it has completed.
type Observer interface {
	Observe(ctx context.Context, ev event.Event)
}

type Summary struct {
	Certificates int
	Due          int
	Renewed      int
	Failed       int
}

type Orchestrator struct {
	cfg         config.Config
	logger      *zap.SugaredLogger
	certManager appcontext.CertManager
	router      appcontext.Router
	observer    Observer

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	dryRun bool
}

type Option func(*Orchestrator)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the blocking wait used around each renewal.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithDryRun only reports due certificates; router and renewals are left alone.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) { o.dryRun = dryRun }
}

func New(appContext appcontext.AppContext, cm appcontext.CertManager, router appcontext.Router, observer Observer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         appContext.Config,
		logger:      appContext.Logger.With("process", "renewal"),
		certManager: cm,
		router:      router,
		observer:    observer,
		now:         time.Now,
		sleep:       sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one renewal pass. Only authentication, listing and connecting to
// the router are fatal; a failed renewal is reported to the observer and the
// pass goes on. Once the router session is open, the NAT rules are disabled and
// the session closed on every way out of Run.
func (o *Orchestrator) Run(ctx context.Context) (summary Summary, err error) {
	token, err := o.certManager.Authenticate(ctx, o.cfg.Registry.Identity, o.cfg.Registry.Secret)
	if err != nil {
		return summary, errors.Wrap(err, "while authenticating")
	}

	certs, err := o.certManager.List(ctx, token)
	if err != nil {
		return summary, errors.Wrap(err, "while fetching certificates")
	}
	summary.Certificates = len(certs)

	if o.dryRun {
		due := certmanager.DueForRenewal(certs, o.now(), o.cfg.Renewal.Window())
		for _, cert := range due {
			o.logger.With("id", cert.ID, "domains", cert.Domains(), "expiresOn", cert.ExpiresOn).Info("would renew certificate")
		}
		summary.Due = len(due)
		return summary, nil
	}

	session, err := o.router.Connect(ctx)
	if err != nil {
		return summary, errors.Wrap(err, "while connecting to router")
	}
	defer o.teardown(ctx, session)

	o.openNat(ctx, session)

	for _, cert := range certs {
		now := o.now()
		if !certmanager.IsDue(cert, now, o.cfg.Renewal.Window()) {
			o.logger.With("id", cert.ID, "domains", cert.Domains(), "expiresOn", cert.ExpiresOn).Debug("certificate not due")
			continue
		}

		summary.Due++
		switch o.renew(ctx, token, cert) {
		case renewed:
			summary.Renewed++
		case failed:
			summary.Failed++
		}

		if ctx.Err() != nil {
			return summary, errors.Wrap(ctx.Err(), "renewal pass interrupted")
		}
	}

	o.logger.With(
		"certificates", summary.Certificates,
		"due", summary.Due,
		"renewed", summary.Renewed,
		"failed", summary.Failed,
	).Info("renewal pass finished")

	return summary, nil
}

// openNat points every rule at the router's current address and enables it.
// Failures are logged only; renewal may still succeed with the rule as it is.
func (o *Orchestrator) openNat(ctx context.Context, session appcontext.RouterSession) {
	iface := o.cfg.Router.Interface
	logger := o.logger.With("interface", iface)

	address, found, err := session.InterfaceAddress(ctx, iface)
	switch {
	case err != nil:
		logger.With("error", err).Warn("while reading interface address, keeping the rule's destination")
	case !found:
		logger.With("error", ErrAddressNotFound).Warn("keeping the rule's destination")
	default:
		logger.With("address", address).Info("interface address found")
	}

	for _, rule := range o.cfg.Router.RuleIDs {
		if found {
			err := session.SetNatDestination(ctx, rule, address)
			if err != nil {
				o.logger.With("rule", rule, "error", err).Error("while updating nat rule")
			}
		}

		err := session.SetNatEnabled(ctx, rule, true)
		if err != nil {
			o.logger.With("rule", rule, "error", err).Error("while enabling nat rule")
		}
	}
}

// teardown runs even when ctx is cancelled, with its own deadline.
func (o *Orchestrator) teardown(ctx context.Context, session appcontext.RouterSession) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	for _, rule := range o.cfg.Router.RuleIDs {
		err := session.SetNatEnabled(tctx, rule, false)
		if err != nil {
			o.logger.With("rule", rule, "error", err).Error("while disabling nat rule")
		}
	}

	err := session.Close()
	if err != nil {
		o.logger.With("error", err).Warn("while closing router session")
	}
}

// renew waits for the pre-renew delay, renews cert and then waits for the
// post-renew delay so the challenge can reach the service through the freshly
// enabled NAT rule. A pass interrupted before the registry was called is neither
// a success nor a failure.
func (o *Orchestrator) renew(ctx context.Context, token appcontext.Token, cert appcontext.Certificate) outcome {
	logger := o.logger.With("id", cert.ID, "domains", cert.Domains(), "expiresOn", cert.ExpiresOn)

	err := o.sleep(ctx, o.cfg.Renewal.PreRenewDelay)
	if err != nil {
		logger.With("error", err).Warn("renewal skipped")
		return interrupted
	}

	logger.Info("renewing certificate")

	result, err := o.certManager.Renew(ctx, token, cert.ID)
	if err != nil {
		logger.With("error", err).Error("while renewing certificate")
		o.observe(ctx, event.Event{Type: event.RenewalFailed, Certificate: cert, Err: err, At: o.now()})
		return failed
	}

	if len(result.DomainNames) == 0 {
		result.DomainNames = cert.DomainNames
	}

	logger.With("modifiedOn", result.ModifiedOn, "newExpiresOn", result.ExpiresOn).Info("certificate renewed")

	// An interrupted wait is caught by the caller's context check.
	_ = o.sleep(ctx, o.cfg.Renewal.PostRenewDelay)

	o.observe(ctx, event.Event{Type: event.Renewed, Certificate: result, At: o.now()})
	return renewed
}

// observe reports an outcome even when ctx has been cancelled meanwhile.
func (o *Orchestrator) observe(ctx context.Context, ev event.Event) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	o.observer.Observe(nctx, ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
