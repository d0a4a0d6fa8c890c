// Package routeros drives a MikroTik router over its SSH command line: it reads the
// address of an interface and toggles firewall NAT rules.
//
// NAT rules are addressed by their position in `/ip firewall nat print`
// ("numbers="), not by a stable id. If the rule list is reordered between runs the
// wrong rule is changed; keeping the index stable is up to the operator.
package routeros

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Runner executes one command line on the router.
type Runner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, err error)
	Close() error
}

type Session struct {
	runner Runner
	logger *zap.SugaredLogger

	closeOnce sync.Once
	closeErr  error
}

var _ appcontext.RouterSession = (*Session)(nil)

func NewSession(runner Runner, logger *zap.SugaredLogger) *Session {
	return &Session{runner: runner, logger: logger}
}

func (s *Session) InterfaceAddress(ctx context.Context, iface string) (string, bool, error) {
	out, err := s.run(ctx, fmt.Sprintf("/ip address print detail where interface=%s", quote(iface)))
	if err != nil {
		return "", false, errors.Wrapf(err, "while reading address of %s", iface)
	}

	addr, found := ParseInterfaceAddress(out)
	return addr, found, nil
}

func (s *Session) SetNatDestination(ctx context.Context, ruleIndex int, address string) error {
	_, err := netip.ParseAddr(address)
	if err != nil {
		return errors.Wrapf(err, "refusing to set destination %q", address)
	}

	_, err = s.run(ctx, fmt.Sprintf("/ip firewall nat set numbers=%d dst-address=%s", ruleIndex, address))
	if err != nil {
		return errors.Wrapf(err, "while updating nat rule %d", ruleIndex)
	}

	s.logger.With("rule", ruleIndex, "dstAddress", address).Info("nat rule destination updated")
	return nil
}

func (s *Session) SetNatEnabled(ctx context.Context, ruleIndex int, enabled bool) error {
	verb := "disable"
	if enabled {
		verb = "enable"
	}

	_, err := s.run(ctx, fmt.Sprintf("/ip firewall nat %s numbers=%d", verb, ruleIndex))
	if err != nil {
		return errors.Wrapf(err, "while trying to %s nat rule %d", verb, ruleIndex)
	}

	s.logger.With("rule", ruleIndex, "enabled", enabled).Info("nat rule toggled")
	return nil
}

// Close releases the connection. Further calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.runner.Close()
	})
	return s.closeErr
}

func (s *Session) run(ctx context.Context, command string) (string, error) {
	s.logger.With("command", command).Debug("running router command")

	stdout, stderr, err := s.runner.Run(ctx, command)
	stderr = strings.TrimSpace(stderr)
	if err != nil || stderr != "" {
		return stdout, &CommandError{Command: command, Output: stderr, Err: err}
	}

	if msg, failed := outputFailure(stdout); failed {
		return stdout, &CommandError{Command: command, Output: msg}
	}

	return stdout, nil
}

// RouterOS reports most errors on stdout with a zero exit status.
var failurePrefixes = []string{
	"failure:",
	"syntax error",
	"bad command name",
	"expected end of command",
	"no such item",
	"input does not match any value",
}

func outputFailure(stdout string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		for _, p := range failurePrefixes {
			if strings.HasPrefix(lower, p) {
				return line, true
			}
		}
	}
	return "", false
}

// ParseInterfaceAddress returns the IPv4 part of the first address=<ip>/<len>
// token found in the output of `/ip address print detail`.
func ParseInterfaceAddress(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "address=") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if !strings.HasPrefix(field, "address=") {
				continue
			}
			value := strings.Trim(strings.TrimPrefix(field, "address="), `"`)
			if i := strings.IndexByte(value, '/'); i >= 0 {
				value = value[:i]
			}
			addr, err := netip.ParseAddr(value)
			if err != nil || !addr.Is4() {
				continue
			}
			return value, true
		}
	}
	return "", false
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\";$[]{}\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
