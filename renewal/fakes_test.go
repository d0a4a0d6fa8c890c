package renewal_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/numtide/cert-renewer/certmanager"
	"github.com/numtide/cert-renewer/event"
	"github.com/numtide/cert-renewer/routeros"
)

// callLog is shared by all fakes so tests can assert on ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.all() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeCertManager struct {
	log       *callLog
	certs     []appcontext.Certificate
	authErr   error
	listErr   error
	failRenew map[int]error
	panicOn   int
}

func (f *fakeCertManager) Authenticate(_ context.Context, identity, secret string) (appcontext.Token, error) {
	f.log.add("authenticate %s", identity)
	if f.authErr != nil {
		return "", f.authErr
	}
	return "tok", nil
}

func (f *fakeCertManager) List(_ context.Context, token appcontext.Token) ([]appcontext.Certificate, error) {
	f.log.add("list %s", token)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.certs, nil
}

func (f *fakeCertManager) Renew(_ context.Context, token appcontext.Token, id int) (appcontext.Certificate, error) {
	f.log.add("renew %d", id)
	if f.panicOn != 0 && id == f.panicOn {
		panic("renew exploded")
	}
	if err, ok := f.failRenew[id]; ok {
		return appcontext.Certificate{}, err
	}
	for _, c := range f.certs {
		if c.ID == id {
			c.ModifiedOn = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
			c.ExpiresOn = c.ExpiresOn.Add(90 * 24 * time.Hour)
			return c, nil
		}
	}
	return appcontext.Certificate{}, fmt.Errorf("%w: no certificate %d", certmanager.ErrRenewalFailed, id)
}

type fakeRouter struct {
	log        *callLog
	session    *fakeSession
	connectErr error
}

func (f *fakeRouter) Connect(context.Context) (appcontext.RouterSession, error) {
	f.log.add("connect")
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.session, nil
}

type fakeSession struct {
	log        *callLog
	address    string
	addressErr error
	enableErr  error
}

func (f *fakeSession) InterfaceAddress(_ context.Context, iface string) (string, bool, error) {
	f.log.add("address %s", iface)
	if f.addressErr != nil {
		return "", false, f.addressErr
	}
	return f.address, f.address != "", nil
}

func (f *fakeSession) SetNatDestination(_ context.Context, rule int, address string) error {
	f.log.add("set %d %s", rule, address)
	return nil
}

func (f *fakeSession) SetNatEnabled(ctx context.Context, rule int, enabled bool) error {
	if enabled {
		f.log.add("enable %d", rule)
		return f.enableErr
	}
	if ctx.Err() != nil {
		return &routeros.CommandError{Command: "disable", Err: ctx.Err()}
	}
	f.log.add("disable %d", rule)
	return nil
}

func (f *fakeSession) Close() error {
	f.log.add("close")
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingObserver) Observe(_ context.Context, ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) types() []event.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []event.EventType
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}
