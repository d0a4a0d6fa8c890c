package certmanager

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/pkg/errors"
)

// Layouts the certificate manager has used for expires_on/modified_on across
// releases. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type timestamp time.Time

func (t *timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = timestamp{}
		return nil
	}

	if len(b) > 0 && b[0] != '"' {
		secs, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "while parsing timestamp %s", b)
		}
		*t = timestamp(time.Unix(secs, 0).UTC())
		return nil
	}

	var s string
	err := json.Unmarshal(b, &s)
	if err != nil {
		return err
	}

	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = timestamp(time.Unix(secs, 0).UTC())
		return nil
	}

	return errors.Errorf("unrecognised timestamp %q", s)
}

type wireCertificate struct {
	ID          int       `json:"id"`
	DomainNames []string  `json:"domain_names"`
	ExpiresOn   timestamp `json:"expires_on"`
	ModifiedOn  timestamp `json:"modified_on"`
}

func (w wireCertificate) certificate() appcontext.Certificate {
	return appcontext.Certificate{
		ID:          w.ID,
		DomainNames: w.DomainNames,
		ExpiresOn:   time.Time(w.ExpiresOn),
		ModifiedOn:  time.Time(w.ModifiedOn),
	}
}

// decodeCertificateList accepts a bare array or an object wrapping it in "data".
func decodeCertificateList(raw json.RawMessage) ([]appcontext.Certificate, error) {
	raw = bytes.TrimSpace(raw)

	var wire []wireCertificate
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Data []wireCertificate `json:"data"`
		}
		err := json.Unmarshal(raw, &wrapped)
		if err != nil {
			return nil, err
		}
		wire = wrapped.Data
	} else {
		err := json.Unmarshal(raw, &wire)
		if err != nil {
			return nil, err
		}
	}

	certs := make([]appcontext.Certificate, 0, len(wire))
	for _, w := range wire {
		certs = append(certs, w.certificate())
	}
	return certs, nil
}
