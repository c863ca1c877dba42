package reader

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"mime"
	"strings"

	"github.com/nlstn/go-odataclient/internal/oerrors"
)

// jsonMessage is a V4 string message or a V2/V3 {"lang", "value"} object.
type jsonMessage string

func (m *jsonMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = jsonMessage(s)
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = jsonMessage(obj.Value)
	return nil
}

type jsonInnerError struct {
	Message           jsonMessage     `json:"message"`
	Type              string          `json:"type"`
	StackTrace        string          `json:"stacktrace"`
	InternalException *jsonInnerError `json:"internalexception"`
	InnerError        *jsonInnerError `json:"innererror"`
}

type jsonError struct {
	Code       string          `json:"code"`
	Message    jsonMessage     `json:"message"`
	Target     string          `json:"target"`
	Details    []jsonError     `json:"details"`
	InnerError *jsonInnerError `json:"innererror"`
}

type xmlInnerError struct {
	Message           string         `xml:"message"`
	Type              string         `xml:"type"`
	StackTrace        string         `xml:"stacktrace"`
	InternalException *xmlInnerError `xml:"internalexception"`
	InnerError        *xmlInnerError `xml:"innererror"`
}

type xmlError struct {
	XMLName    xml.Name
	Code       string         `xml:"code"`
	Message    string         `xml:"message"`
	Target     string         `xml:"target"`
	InnerError *xmlInnerError `xml:"innererror"`
}

var errNoDetails = errors.New("response carries no OData error payload")

// parseErrorDetails reads the error payload of a failed response. It
// understands the V4 "error", V3 "odata.error" and V2 JSON shapes and the
// XML m:error document.
func parseErrorDetails(contentType string, body []byte) (*oerrors.ErrorDetails, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errNoDetails
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasSuffix(mediaType, "xml") || (mediaType == "" && body[0] == '<') {
		return parseXMLError(body)
	}
	if body[0] != '{' {
		return nil, errNoDetails
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	raw, ok := envelope["error"]
	if !ok {
		raw, ok = envelope["odata.error"]
	}
	if !ok {
		return nil, errNoDetails
	}
	var je jsonError
	if err := json.Unmarshal(raw, &je); err != nil {
		return nil, err
	}
	return je.details(), nil
}

func (e jsonError) details() *oerrors.ErrorDetails {
	d := &oerrors.ErrorDetails{
		Code:    e.Code,
		Message: string(e.Message),
		Target:  e.Target,
		Inner:   e.InnerError.inner(),
	}
	for _, child := range e.Details {
		d.Details = append(d.Details, *child.details())
	}
	return d
}

func (e *jsonInnerError) inner() *oerrors.InnerError {
	if e == nil {
		return nil
	}
	next := e.InternalException
	if next == nil {
		next = e.InnerError
	}
	return &oerrors.InnerError{
		Message:    string(e.Message),
		TypeName:   e.Type,
		StackTrace: e.StackTrace,
		Inner:      next.inner(),
	}
}

func parseXMLError(body []byte) (*oerrors.ErrorDetails, error) {
	var xe xmlError
	if err := xml.Unmarshal(body, &xe); err != nil {
		return nil, err
	}
	if xe.XMLName.Local != "error" {
		return nil, errNoDetails
	}
	return &oerrors.ErrorDetails{
		Code:    strings.TrimSpace(xe.Code),
		Message: strings.TrimSpace(xe.Message),
		Target:  xe.Target,
		Inner:   xe.InnerError.inner(),
	}, nil
}

func (e *xmlInnerError) inner() *oerrors.InnerError {
	if e == nil {
		return nil
	}
	next := e.InternalException
	if next == nil {
		next = e.InnerError
	}
	return &oerrors.InnerError{
		Message:    strings.TrimSpace(e.Message),
		TypeName:   e.Type,
		StackTrace: e.StackTrace,
		Inner:      next.inner(),
	}
}
