package certmanager

import (
	"time"

	"github.com/numtide/cert-renewer/appcontext"
)

// IsDue reports whether cert expires before now+window.
func IsDue(cert appcontext.Certificate, now time.Time, window time.Duration) bool {
	return cert.ExpiresOn.Before(now.Add(window))
}

// DueForRenewal filters certs down to those that are due, keeping their order.
func DueForRenewal(certs []appcontext.Certificate, now time.Time, window time.Duration) []appcontext.Certificate {
	due := []appcontext.Certificate{}
	for _, cert := range certs {
		if IsDue(cert, now, window) {
			due = append(due, cert)
		}
	}
	return due
}
