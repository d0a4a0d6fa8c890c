package appcontext

import "context"

type Router interface {
	Connect(ctx context.Context) (RouterSession, error)
}

// RouterSession addresses NAT rules by their position in the rule list. The
// positions must not change between runs or the wrong rule is toggled.
type RouterSession interface {
	InterfaceAddress(ctx context.Context, iface string) (string, bool, error)
	SetNatDestination(ctx context.Context, ruleIndex int, address string) error
	SetNatEnabled(ctx context.Context, ruleIndex int, enabled bool) error
	Close() error
}
