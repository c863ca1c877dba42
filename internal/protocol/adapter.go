// Package protocol describes how the OData protocol versions differ on the
// wire. The differences are data on an Adapter rather than separate code
// paths, so writers and readers branch on fields instead of versions.
package protocol

import (
	"fmt"
	"net/http"
	"strings"
)

// Version is an OData protocol version.
type Version int

const (
	V2 Version = 2
	V3 Version = 3
	V4 Version = 4
)

func (v Version) String() string {
	switch v {
	case V2:
		return "2.0"
	case V3:
		return "3.0"
	case V4:
		return "4.0"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// ParseVersion maps a metadata version string such as "4.01" or "1.0" to
// a protocol version. Documents older than 2.0 are read as V2.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "4"):
		return V4, nil
	case strings.HasPrefix(s, "3"):
		return V3, nil
	case strings.HasPrefix(s, "2"), strings.HasPrefix(s, "1"):
		return V2, nil
	default:
		return 0, fmt.Errorf("unsupported OData version %q", s)
	}
}

// Header and media type names shared by all versions.
const (
	HeaderPrefer            = "Prefer"
	HeaderPreferenceApplied = "Preference-Applied"
	HeaderContentID         = "Content-ID"
	HeaderIfMatch           = "If-Match"
	HeaderETag              = "ETag"
	HeaderLocation          = "Location"
	HeaderEntityID          = "OData-EntityId"
	HeaderDataServiceID     = "DataServiceId"

	ContentTypeJSON      = "application/json"
	ContentTypeText      = "text/plain"
	ContentTypeOctet     = "application/octet-stream"
	ContentTypeHTTP      = "application/http"
	ContentTypeMultipart = "multipart/mixed"
)

// Adapter is the per-version table of wire differences.
type Adapter struct {
	Version Version

	// UpdateMethod is the verb for partial updates: MERGE before V4, PATCH in V4.
	UpdateMethod string

	VersionHeader    string
	MaxVersionHeader string

	// PreferRepresentation and PreferMinimal are the Prefer header values
	// asking the server to return or omit the written entity.
	PreferRepresentation string
	PreferMinimal        string

	// JSONContentType is sent in Accept and Content-Type for JSON payloads.
	JSONContentType string

	// AnnotationPrefix is the prefix of control information in JSON
	// payloads: "@odata." in V4, "odata." in V3 JSON light and empty for
	// V2 verbose JSON, which carries it in __metadata instead.
	AnnotationPrefix string

	// Verbose is set for V2 verbose JSON (d / results / __metadata wrappers).
	Verbose bool

	// LinksSegment addresses entity references: $ref in V4, $links before.
	LinksSegment string

	// CountOption requests an inline count with a collection.
	CountOption      string
	CountOptionValue string

	// QuotedLargeNumbers is set when Edm.Int64 and Edm.Decimal travel as
	// JSON strings.
	QuotedLargeNumbers bool

	// TypedLiterals is set when URL literals carry type markers such as
	// guid'..', datetime'..' or the L and M suffixes.
	TypedLiterals bool

	SupportsJSONBatch bool
	SupportsSearch    bool
	SupportsApply     bool
	// SupportsParameterizedFunctions is set when function parameters are
	// written inside the path segment instead of the query string.
	SupportsParameterizedFunctions bool
}

var adapters = map[Version]*Adapter{
	V2: {
		Version:              V2,
		UpdateMethod:         "MERGE",
		VersionHeader:        "DataServiceVersion",
		MaxVersionHeader:     "MaxDataServiceVersion",
		PreferRepresentation: "",
		PreferMinimal:        "",
		JSONContentType:      "application/json",
		AnnotationPrefix:     "",
		Verbose:              true,
		LinksSegment:         "$links",
		CountOption:          "$inlinecount",
		CountOptionValue:     "allpages",
		QuotedLargeNumbers:   true,
		TypedLiterals:        true,
	},
	V3: {
		Version:              V3,
		UpdateMethod:         "MERGE",
		VersionHeader:        "DataServiceVersion",
		MaxVersionHeader:     "MaxDataServiceVersion",
		PreferRepresentation: "return-content",
		PreferMinimal:        "return-no-content",
		JSONContentType:      "application/json;odata=minimalmetadata",
		AnnotationPrefix:     "odata.",
		LinksSegment:         "$links",
		CountOption:          "$inlinecount",
		CountOptionValue:     "allpages",
		QuotedLargeNumbers:   true,
		TypedLiterals:        true,
	},
	V4: {
		Version:                        V4,
		UpdateMethod:                   "PATCH",
		VersionHeader:                  "OData-Version",
		MaxVersionHeader:               "OData-MaxVersion",
		PreferRepresentation:           "return=representation",
		PreferMinimal:                  "return=minimal",
		JSONContentType:                "application/json;odata.metadata=minimal",
		AnnotationPrefix:               "@odata.",
		LinksSegment:                   "$ref",
		CountOption:                    "$count",
		CountOptionValue:               "true",
		SupportsJSONBatch:              true,
		SupportsSearch:                 true,
		SupportsApply:                  true,
		SupportsParameterizedFunctions: true,
	},
}

// For returns the adapter for v.
func For(v Version) (*Adapter, error) {
	a, ok := adapters[v]
	if !ok {
		return nil, fmt.Errorf("unsupported OData version %d", int(v))
	}
	return a, nil
}

// MustFor is For for versions known to be valid.
func MustFor(v Version) *Adapter {
	a, err := For(v)
	if err != nil {
		panic(err)
	}
	return a
}

// Annotation returns the full JSON name of a control annotation such as
// "etag" or "nextLink" for this version.
func (a *Adapter) Annotation(name string) string {
	return a.AnnotationPrefix + name
}

// Prefer returns the Prefer header value for the requested result shape,
// or "" when the version has no vocabulary for it.
func (a *Adapter) Prefer(resultRequired bool) string {
	if resultRequired {
		return a.PreferRepresentation
	}
	return a.PreferMinimal
}

// ApplyVersionHeaders sets the version negotiation headers.
func (a *Adapter) ApplyVersionHeaders(h http.Header) {
	h.Set(a.VersionHeader, a.Version.String())
	h.Set(a.MaxVersionHeader, a.Version.String())
}

// MethodFor maps the logical verbs used by the client to the wire verb.
// "PATCH" becomes MERGE before V4.
func (a *Adapter) MethodFor(verb string) string {
	if verb == http.MethodPatch {
		return a.UpdateMethod
	}
	return verb
}
