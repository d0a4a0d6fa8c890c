package routeros

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/numtide/cert-renewer/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Dialer opens SSH control sessions to the configured router.
type Dialer struct {
	cfg    config.Router
	logger *zap.SugaredLogger
}

var _ appcontext.Router = (*Dialer)(nil)

func NewDialer(appContext appcontext.AppContext) *Dialer {
	return &Dialer{
		cfg:    appContext.Config.Router,
		logger: appContext.Logger.With("component", "routeros", "host", appContext.Config.Router.Host),
	}
}

func (d *Dialer) Connect(ctx context.Context) (appcontext.RouterSession, error) {
	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	password := d.cfg.Password
	clientConfig := &ssh.ClientConfig{
		User: d.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.cfg.Timeout,
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	dialer := net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, errors.Wrapf(err, "while dialing %s", addr))
	}

	if d.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, errors.Wrap(err, "while establishing ssh session"))
	}

	_ = conn.SetDeadline(time.Time{})

	d.logger.Info("connected to router")

	return NewSession(&sshRunner{client: ssh.NewClient(c, chans, reqs)}, d.logger), nil
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.cfg.HostKey == "" {
		d.logger.Warn("MIKROTIK_HOST_KEY not set, accepting any router host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(d.cfg.HostKey))
	if err != nil {
		return nil, errors.Wrap(err, "while parsing MIKROTIK_HOST_KEY")
	}

	return ssh.FixedHostKey(key), nil
}

// closeGrace is how long a cancelled command may take to wind down before the
// whole connection is dropped.
const closeGrace = 2 * time.Second

// sshRunner runs each command in a fresh channel on one client connection.
type sshRunner struct {
	client *ssh.Client
}

// Run returns once the command finishes or shortly after ctx is done. A router
// that stops answering loses its connection, so later commands fail fast.
func (r *sshRunner) Run(ctx context.Context, command string) (string, string, error) {
	var stdout, stderr bytes.Buffer

	opened := make(chan *ssh.Session, 1)
	done := make(chan error, 1)
	go func() {
		sess, err := r.client.NewSession()
		if err != nil {
			done <- errors.Wrap(err, "while opening ssh channel")
			return
		}
		defer sess.Close()
		opened <- sess

		sess.Stdout = &stdout
		sess.Stderr = &stderr
		done <- sess.Run(command)
	}()

	select {
	case err := <-done:
		return stdout.String(), stderr.String(), err
	case <-ctx.Done():
	}

	select {
	case sess := <-opened:
		sess.Close()
	default:
	}

	grace := time.NewTimer(closeGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		r.client.Close()
		<-done
	}

	return stdout.String(), stderr.String(), ctx.Err()
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
