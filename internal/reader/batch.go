package reader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/nlstn/go-odataclient/internal/protocol"
)

// readMultipartBatch parses a multipart/mixed batch response. Changesets
// are flattened, so sub-responses line up with the requests in send order.
func (r *Reader) readMultipartBatch(body []byte, boundary string, opts Options) ([]*Response, error) {
	if boundary == "" {
		return nil, fmt.Errorf("batch response has no multipart boundary")
	}
	var out []*Response
	if err := r.readParts(body, boundary, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) readParts(body []byte, boundary string, opts Options, out *[]*Response) error {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read batch part: %w", err)
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if mediaType == protocol.ContentTypeMultipart {
			nested, err := io.ReadAll(part)
			if err != nil {
				return fmt.Errorf("failed to read changeset: %w", err)
			}
			if err := r.readParts(nested, params["boundary"], opts, out); err != nil {
				return err
			}
			continue
		}

		resp, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			return fmt.Errorf("failed to parse batch operation response: %w", err)
		}
		sub, err := r.GetResponse(resp, operationOptions(opts, len(*out)))
		resp.Body.Close()
		if err != nil {
			return err
		}
		sub.ContentID = part.Header.Get(protocol.HeaderContentID)
		if sub.ContentID == "" {
			sub.ContentID = resp.Header.Get(protocol.HeaderContentID)
		}
		*out = append(*out, sub)
	}
}

type jsonBatchResponse struct {
	ID             string            `json:"id"`
	AtomicityGroup string            `json:"atomicityGroup"`
	Status         int               `json:"status"`
	Headers        map[string]string `json:"headers"`
	Body           json.RawMessage   `json:"body"`
}

// readJSONBatch parses a V4 JSON batch response.
func (r *Reader) readJSONBatch(body []byte, opts Options) ([]*Response, error) {
	var batch struct {
		Responses []jsonBatchResponse `json:"responses"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse JSON batch response: %w", err)
	}

	out := make([]*Response, 0, len(batch.Responses))
	for i, item := range batch.Responses {
		h := http.Header{}
		for k, v := range item.Headers {
			h.Set(k, v)
		}
		payload := []byte(item.Body)
		if string(payload) == "null" {
			payload = nil
		}
		var text string
		if payload != nil && !isJSON(mediaTypeOf(h)) && json.Unmarshal(payload, &text) == nil {
			payload = []byte(text)
		}
		if len(payload) > 0 && h.Get("Content-Type") == "" {
			h.Set("Content-Type", protocol.ContentTypeJSON)
		}
		resp := &http.Response{
			StatusCode:    item.Status,
			Status:        strconv.Itoa(item.Status) + " " + http.StatusText(item.Status),
			Header:        h,
			Body:          io.NopCloser(bytes.NewReader(payload)),
			ContentLength: int64(len(payload)),
		}
		sub, err := r.GetResponse(resp, operationOptions(opts, i))
		if err != nil {
			return nil, err
		}
		sub.ContentID = item.ID
		out = append(out, sub)
	}
	return out, nil
}

func operationOptions(opts Options, i int) Options {
	if i < len(opts.Operations) {
		sub := opts.Operations[i]
		sub.Operations = nil
		return sub
	}
	return Options{RequestURI: opts.RequestURI}
}

func mediaTypeOf(h http.Header) string {
	mediaType, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
	return strings.ToLower(mediaType)
}
