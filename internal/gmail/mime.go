package gmail

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"

	"github.com/daviddao/mailtriage/internal/mailbox"
)

// buildRaw renders d as an RFC 5322 message with a quoted-printable HTML body.
func buildRaw(d mailbox.Draft) ([]byte, error) {
	if d.To == "" {
		return nil, fmt.Errorf("draft has no recipient")
	}

	var buf bytes.Buffer
	header := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}
	header("To", d.To)
	header("Cc", d.Cc)
	header("Subject", mime.QEncoding.Encode("utf-8", d.Subject))
	header("In-Reply-To", d.InReplyTo)
	header("References", d.References)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(d.HTMLBody)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}
