package appcontext

import (
	"context"
	"strings"
	"time"
)

// Token is the bearer token issued by the certificate manager. It is valid for a
// single run and never stored.
type Token string

type Certificate struct {
	ID          int
	DomainNames []string
	ExpiresOn   time.Time
	ModifiedOn  time.Time
}

func (c Certificate) Domains() string {
	return strings.Join(c.DomainNames, ", ")
}

type CertManager interface {
	Authenticate(ctx context.Context, identity, secret string) (Token, error)
	List(ctx context.Context, token Token) ([]Certificate, error)
	Renew(ctx context.Context, token Token, id int) (Certificate, error)
}
