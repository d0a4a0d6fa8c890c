package certmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxErrorBody bounds how much of an error response is kept in a StatusError.
const maxErrorBody = 4096

// Client talks to the certificate manager (Nginx Proxy Manager) REST API. It does
// not retry and does not paginate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

var _ appcontext.CertManager = (*Client)(nil)

func New(appContext appcontext.AppContext) *Client {
	return NewWithHTTPClient(appContext, &http.Client{Timeout: appContext.Config.HTTPTimeout})
}

func NewWithHTTPClient(appContext appcontext.AppContext, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(appContext.Config.Registry.URL, "/"),
		httpClient: httpClient,
		logger:     appContext.Logger.With("component", "certmanager"),
	}
}

type tokenRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
	Scope    string `json:"scope"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) Authenticate(ctx context.Context, identity, secret string) (appcontext.Token, error) {
	var res tokenResponse
	err := c.do(ctx, "authenticate", http.MethodPost, "/tokens", "", tokenRequest{
		Identity: identity,
		Secret:   secret,
		Scope:    "user",
	}, &res)
	if err != nil {
		return "", errors.Wrap(markAs(ErrAuth, err), "while requesting token")
	}

	if res.Token == "" {
		return "", errors.Wrap(ErrAuth, "empty token in response")
	}

	c.logger.Debug("token obtained")

	return appcontext.Token(res.Token), nil
}

func (c *Client) List(ctx context.Context, token appcontext.Token) ([]appcontext.Certificate, error) {
	var raw json.RawMessage
	err := c.do(ctx, "list certificates", http.MethodGet, "/nginx/certificates", token, nil, &raw)
	if err != nil {
		return nil, errors.Wrap(markAs(ErrRegistry, err), "while listing certificates")
	}

	certs, err := decodeCertificateList(raw)
	if err != nil {
		return nil, errors.Wrap(markAs(ErrRegistry, err), "while decoding certificate list")
	}

	c.logger.With("count", len(certs)).Debug("certificates listed")

	return certs, nil
}

func (c *Client) Renew(ctx context.Context, token appcontext.Token, id int) (appcontext.Certificate, error) {
	var wc wireCertificate
	path := fmt.Sprintf("/nginx/certificates/%d/renew", id)
	err := c.do(ctx, "renew certificate", http.MethodPost, path, token, nil, &wc)
	if err != nil {
		return appcontext.Certificate{}, errors.Wrapf(markAs(ErrRenewalFailed, err), "while renewing certificate %d", id)
	}

	return wc.certificate(), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, token appcontext.Token, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "while encoding request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "while creating request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "while calling %s %s", method, path)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(res.Body).Decode(out)
	if err != nil {
		return errors.Wrap(err, "while decoding response")
	}

	return nil
}

func markAs(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
