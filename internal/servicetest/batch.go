package servicetest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type batchRequest struct {
	Method    string
	URL       string
	Headers   http.Header
	Body      []byte
	ContentID string
}

type batchResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	ContentID  string
}

// handleBatch serves multipart/mixed batches. Each changeset runs in one
// transaction and rolls back on its first failure; every request of a
// failed changeset is then answered with that failure.
func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "only POST is supported for $batch")
		return
	}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/mixed" || params["boundary"] == "" {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "$batch requests must use multipart/mixed with a boundary")
		return
	}

	ids := map[string]string{}
	var responses []batchResponse
	reader := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("failed to read batch part: %v", err))
			return
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case err != nil:
			responses = append(responses, errorResponse(http.StatusBadRequest, "invalid part Content-Type"))
		case strings.HasPrefix(partType, "multipart/"):
			responses = append(responses, s.processChangeset(r, part, partParams["boundary"], ids)...)
		case partType == "application/http":
			req, err := parseHTTPRequest(part)
			if err != nil {
				responses = append(responses, errorResponse(http.StatusBadRequest, err.Error()))
				continue
			}
			responses = append(responses, s.executeRequest(r, req, s.db.WithContext(r.Context()), ids))
		default:
			responses = append(responses, errorResponse(http.StatusBadRequest, "unsupported part type "+partType))
		}
	}
	s.writeBatchResponse(w, responses)
}

func (s *Service) processChangeset(parent *http.Request, r io.Reader, boundary string, ids map[string]string) []batchResponse {
	var requests []*batchRequest
	reader := multipart.NewReader(r, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return []batchResponse{errorResponse(http.StatusBadRequest, fmt.Sprintf("failed to read changeset part: %v", err))}
		}
		req, err := parseHTTPRequest(part)
		if err != nil {
			return []batchResponse{errorResponse(http.StatusBadRequest, err.Error())}
		}
		req.ContentID = part.Header.Get("Content-ID")
		requests = append(requests, req)
	}

	var responses []batchResponse
	var failed *batchResponse
	err := s.db.WithContext(parent.Context()).Transaction(func(tx *gorm.DB) error {
		for _, req := range requests {
			resp := s.executeRequest(parent, req, tx, ids)
			if resp.StatusCode >= 400 {
				failed = &resp
				return fmt.Errorf("changeset request failed with status %d", resp.StatusCode)
			}
			responses = append(responses, resp)
		}
		return nil
	})
	if err == nil {
		return responses
	}

	s.logger.Debug("Rolled back changeset", "requests", len(requests), "error", err)
	if failed == nil {
		f := errorResponse(http.StatusInternalServerError, err.Error())
		failed = &f
	}
	out := make([]batchResponse, len(requests))
	for i, req := range requests {
		out[i] = *failed
		out[i].ContentID = req.ContentID
	}
	return out
}

// parseHTTPRequest reads the request line, headers and body of an
// application/http part.
func parseHTTPRequest(r io.Reader) (*batchRequest, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read request line: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, fmt.Errorf("invalid request line %q", line)
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read request headers: %w", err)
	}
	body, err := io.ReadAll(tp.R)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return &batchRequest{
		Method:  fields[0],
		URL:     fields[1],
		Headers: http.Header(header),
		Body:    bytes.TrimRight(body, "\r\n"),
	}, nil
}

// resolveContentIDs replaces "$<id>" references with the entity paths
// created earlier in the batch.
func resolveContentIDs(req *batchRequest, ids map[string]string) {
	if rest, ok := strings.CutPrefix(req.URL, "$"); ok {
		id, tail, _ := strings.Cut(rest, "/")
		if path, ok := ids[id]; ok {
			req.URL = path
			if tail != "" {
				req.URL += "/" + tail
			}
		}
	}
	for id, path := range ids {
		req.Body = bytes.ReplaceAll(req.Body, []byte(`"$`+id+`"`), []byte(`"`+path+`"`))
	}
}

func (s *Service) executeRequest(parent *http.Request, req *batchRequest, db *gorm.DB, ids map[string]string) batchResponse {
	resolveContentIDs(req, ids)
	url := req.URL
	if u, ok := strings.CutPrefix(url, baseURL(parent)); ok {
		url = u
	}
	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	if idx := strings.IndexByte(url, '?'); idx != -1 {
		url = url[:idx] + "?" + strings.ReplaceAll(url[idx+1:], " ", "%20")
	}

	httpReq := httptest.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	httpReq.Host = parent.Host
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq = httpReq.WithContext(parent.Context())

	recorder := httptest.NewRecorder()
	s.route(recorder, httpReq, db)

	resp := batchResponse{
		StatusCode: recorder.Code,
		Headers:    recorder.Header(),
		Body:       recorder.Body.Bytes(),
		ContentID:  req.ContentID,
	}
	if loc := resp.Headers.Get("Location"); req.ContentID != "" && loc != "" {
		ids[req.ContentID] = strings.TrimPrefix(loc, baseURL(parent)+"/")
	}
	return resp
}

func errorResponse(status int, message string) batchResponse {
	body := fmt.Sprintf(`{"error":{"code":"%d","message":%q}}`, status, message)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return batchResponse{StatusCode: status, Headers: h, Body: []byte(body)}
}

func (s *Service) writeBatchResponse(w http.ResponseWriter, responses []batchResponse) {
	boundary := "batchresponse_" + uuid.NewString()
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+boundary)
	w.Header().Set(headerODataVersion, "4.0")
	w.WriteHeader(http.StatusOK)

	var buf bytes.Buffer
	for _, resp := range responses {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: application/http\r\n")
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: binary\r\n")
		if resp.ContentID != "" {
			fmt.Fprintf(&buf, "Content-ID: %s\r\n", resp.ContentID)
		}
		fmt.Fprintf(&buf, "\r\n")
		fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
		for key, values := range resp.Headers {
			for _, value := range values {
				fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
			}
		}
		fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(resp.Body))
		buf.Write(resp.Body)
		fmt.Fprintf(&buf, "\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("Error writing batch response", "error", err)
	}
}
