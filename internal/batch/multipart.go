package batch

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/nlstn/go-odataclient/internal/protocol"
)

func newBoundary(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// multipartBody writes the multipart/mixed batch body. Consecutive
// operations of the same changeset share one nested multipart part.
func (w *Writer) multipartBody() ([]byte, string, error) {
	boundary := newBoundary("batch")
	var buf bytes.Buffer

	for i := 0; i < len(w.ops); {
		op := w.ops[i]
		if op.Changeset == 0 {
			fmt.Fprintf(&buf, "--%s\r\n", boundary)
			writeRequestPart(&buf, op)
			i++
			continue
		}

		changeset := newBoundary("changeset")
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; boundary=%s\r\n\r\n", protocol.ContentTypeMultipart, changeset)
		for ; i < len(w.ops) && w.ops[i].Changeset == op.Changeset; i++ {
			fmt.Fprintf(&buf, "--%s\r\n", changeset)
			writeRequestPart(&buf, w.ops[i])
		}
		fmt.Fprintf(&buf, "--%s--\r\n", changeset)
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), boundary, nil
}

// writeRequestPart writes one application/http part: MIME headers, the
// request line, request headers and the body.
func writeRequestPart(buf *bytes.Buffer, op Operation) {
	req := op.Request
	fmt.Fprintf(buf, "Content-Type: %s\r\n", protocol.ContentTypeHTTP)
	fmt.Fprintf(buf, "Content-Transfer-Encoding: binary\r\n")
	if op.ContentID != "" {
		fmt.Fprintf(buf, "%s: %s\r\n", protocol.HeaderContentID, op.ContentID)
	}
	fmt.Fprintf(buf, "\r\n")

	fmt.Fprintf(buf, "%s %s HTTP/1.1\r\n", req.Method, req.URI)
	writeHeaders(buf, req.Header)
	if len(req.Body) > 0 && req.Header.Get("Content-Length") == "" {
		fmt.Fprintf(buf, "Content-Length: %d\r\n", len(req.Body))
	}
	fmt.Fprintf(buf, "\r\n")
	if len(req.Body) > 0 {
		buf.Write(req.Body)
	}
	fmt.Fprintf(buf, "\r\n")
}

func writeHeaders(buf *bytes.Buffer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
}
