package batch

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

type jsonRequest struct {
	ID             string            `json:"id"`
	AtomicityGroup string            `json:"atomicityGroup,omitempty"`
	DependsOn      []string          `json:"dependsOn,omitempty"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
}

type jsonBatch struct {
	Requests []jsonRequest `json:"requests"`
}

// jsonBody writes the JSON batch format. Requests without a content-ID
// get a generated id, changesets become atomicity groups, and a request
// that references an earlier content-ID as $id depends on it.
func (w *Writer) jsonBody() ([]byte, error) {
	batch := jsonBatch{Requests: make([]jsonRequest, 0, len(w.ops))}
	var ids []string
	used := make(map[string]bool, len(w.ops))
	for _, op := range w.ops {
		if op.ContentID != "" {
			used[op.ContentID] = true
		}
	}

	for i, op := range w.ops {
		req := op.Request
		id := op.ContentID
		if id == "" {
			id = generatedID(i+1, used)
		}
		jr := jsonRequest{
			ID:     id,
			Method: req.Method,
			URL:    req.URI,
		}
		if op.Changeset > 0 {
			jr.AtomicityGroup = "g" + strconv.Itoa(op.Changeset)
		}
		if len(req.Header) > 0 {
			jr.Headers = make(map[string]string, len(req.Header))
			for k := range req.Header {
				jr.Headers[strings.ToLower(k)] = req.Header.Get(k)
			}
		}
		if len(req.Body) > 0 {
			if json.Valid(req.Body) {
				jr.Body = json.RawMessage(req.Body)
			} else {
				jr.Body = string(req.Body)
			}
		}
		for _, prev := range ids {
			if references(req.URI, req.Body, prev) {
				jr.DependsOn = append(jr.DependsOn, prev)
			}
		}
		ids = append(ids, id)
		batch.Requests = append(batch.Requests, jr)
	}
	return json.Marshal(batch)
}

// generatedID returns "r<n>", counting up from n past ids in use.
func generatedID(n int, used map[string]bool) string {
	for {
		id := "r" + strconv.Itoa(n)
		if !used[id] {
			used[id] = true
			return id
		}
		n++
	}
}

// references reports whether uri or a string token of body is $id or a
// path below it.
func references(uri string, body []byte, id string) bool {
	ref := "$" + id
	isRef := func(s string) bool {
		return s == ref || strings.HasPrefix(s, ref+"/") || strings.HasPrefix(s, ref+"?")
	}
	return isRef(uri) || slices.ContainsFunc(strings.Split(string(body), `"`), isRef)
}
