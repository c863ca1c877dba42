// Package servicetest runs a small OData V4 service over gorm so the client
// can be exercised end to end. It serves the Categories and Products sets
// of the Northwind fixture, including references, $count, server-driven
// paging and multipart batches with changesets.
package servicetest

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nlstn/go-odataclient/internal/testfixtures"
)

// Category is a row of the Categories set.
type Category struct {
	CategoryID   int     `json:"CategoryID" gorm:"primaryKey"`
	CategoryName string  `json:"CategoryName"`
	Description  *string `json:"Description"`
}

// Product is a row of the Products set.
type Product struct {
	ProductID       int      `json:"ProductID" gorm:"primaryKey"`
	ProductName     string   `json:"ProductName"`
	Code            *string  `json:"Code" gorm:"uniqueIndex"`
	QuantityPerUnit *string  `json:"QuantityPerUnit"`
	UnitPrice       *float64 `json:"UnitPrice"`
	CategoryID      *int     `json:"CategoryID"`
	Discontinued    bool     `json:"Discontinued"`
}

type navigation struct {
	target string
	// foreignKey is the property holding the key: on the source for
	// single-valued links, on the target for collections.
	foreignKey string
	collection bool
}

type entitySet struct {
	name        string
	model       reflect.Type
	key         string
	columns     map[string]string
	navigations map[string]navigation
	concurrency bool
}

func (set *entitySet) newEntity() any { return reflect.New(set.model).Interface() }

func (set *entitySet) newSlice() reflect.Value { return reflect.New(reflect.SliceOf(set.model)) }

// Service is an http.Handler. Mount it at the root of a test server.
type Service struct {
	db       *gorm.DB
	sets     map[string]*entitySet
	pageSize int
	logger   *slog.Logger
}

type Option func(*Service)

// WithPageSize makes collection reads return at most n entries per page,
// followed by a next link.
func WithPageSize(n int) Option {
	return func(s *Service) { s.pageSize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQLite opens an in-memory database. All work shares one connection
// so every statement sees the same database.
func OpenSQLite() (*gorm.DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite3", Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// New migrates the schema into db and returns the service.
func New(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	s := &Service{db: db, sets: map[string]*entitySet{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&Category{}, &Product{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := s.register("Categories", &Category{}, map[string]navigation{
		"Products": {target: "Products", foreignKey: "CategoryID", collection: true},
	}, false); err != nil {
		return nil, err
	}
	if err := s.register("Products", &Product{}, map[string]navigation{
		"Category": {target: "Categories", foreignKey: "CategoryID"},
	}, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) register(name string, model any, navs map[string]navigation, concurrency bool) error {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("failed to parse model of %s: %w", name, err)
	}
	set := &entitySet{
		name:        name,
		model:       reflect.TypeOf(model).Elem(),
		columns:     map[string]string{},
		navigations: navs,
		concurrency: concurrency,
	}
	for _, f := range stmt.Schema.Fields {
		if f.DBName == "" {
			continue
		}
		set.columns[f.Name] = f.DBName
		if f.PrimaryKey {
			set.key = f.Name
		}
	}
	s.sets[name] = set
	return nil
}

// DB returns the database the service reads and writes.
func (s *Service) DB() *gorm.DB { return s.db }

// Seed inserts rows directly.
func (s *Service) Seed(rows ...any) error {
	for _, row := range rows {
		if err := s.db.Create(row).Error; err != nil {
			return fmt.Errorf("failed to seed %T: %w", row, err)
		}
	}
	return nil
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	switch path {
	case "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set(headerODataVersion, "4.0")
		if _, err := io.WriteString(w, testfixtures.NorthwindV4); err != nil {
			s.logger.Error("Error writing metadata", "error", err)
		}
		return
	case "$batch":
		s.handleBatch(w, r)
		return
	}
	s.route(w, r, s.db.WithContext(r.Context()))
}

const headerODataVersion = "OData-Version"

// target is the resource a request path addresses.
type target struct {
	set   *entitySet
	key   any
	keyOf string
	nav   string
	count bool
	ref   bool
}

func (s *Service) parsePath(path string) (*target, error) {
	segments := strings.Split(path, "/")
	head := segments[0]
	t := &target{}
	name := head
	if open := strings.IndexByte(head, '('); open >= 0 {
		if !strings.HasSuffix(head, ")") {
			return nil, fmt.Errorf("malformed key in %q", head)
		}
		name = head[:open]
		prop, value, err := parseKey(head[open+1 : len(head)-1])
		if err != nil {
			return nil, err
		}
		t.key, t.keyOf = value, prop
	}
	set, ok := s.sets[name]
	if !ok {
		return nil, errNotFound("entity set '" + name + "' is not served")
	}
	t.set = set
	if t.key != nil && t.keyOf == "" {
		t.keyOf = set.key
	}
	if t.keyOf != "" {
		if _, ok := set.columns[t.keyOf]; !ok {
			return nil, fmt.Errorf("'%s' is not a property of %s", t.keyOf, set.name)
		}
	}

	for _, seg := range segments[1:] {
		switch {
		case seg == "$count":
			t.count = true
		case seg == "$ref":
			t.ref = true
		case t.nav == "":
			if _, ok := set.navigations[seg]; !ok {
				return nil, errNotFound("'" + seg + "' is not a navigation property of " + set.name)
			}
			t.nav = seg
		default:
			return nil, fmt.Errorf("unsupported path segment %q", seg)
		}
	}
	return t, nil
}

// parseKey reads "1", "'a'" or "Name=value".
func parseKey(text string) (string, any, error) {
	prop := ""
	if eq := strings.IndexByte(text, '='); eq > 0 && !strings.HasPrefix(text, "'") {
		prop, text = text[:eq], text[eq+1:]
	}
	v, err := parseLiteral(text)
	if err != nil {
		return "", nil, err
	}
	if v == nil {
		return "", nil, errors.New("null key")
	}
	return prop, v, nil
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func errNotFound(msg string) error { return &notFoundError{msg: msg} }

func (s *Service) fail(w http.ResponseWriter, err error) {
	var nf *notFoundError
	var pe *preconditionError
	switch {
	case errors.As(err, &nf):
		s.writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.As(err, &pe):
		s.writeError(w, pe.status, "PreconditionFailed", err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
	}
}

func (s *Service) route(w http.ResponseWriter, r *http.Request, db *gorm.DB) {
	t, err := s.parsePath(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		s.fail(w, err)
		return
	}

	switch {
	case t.ref:
		s.handleRef(w, r, db, t)
	case t.count:
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "$count is read-only")
			return
		}
		s.handleCount(w, r, db, t)
	case t.nav != "":
		s.handleNavigation(w, r, db, t)
	case t.key == nil:
		switch r.Method {
		case http.MethodGet:
			s.handleCollection(w, r, db, t.set, nil)
		case http.MethodPost:
			s.handleCreate(w, r, db, t.set)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method+" is not allowed on a collection")
		}
	default:
		switch r.Method {
		case http.MethodGet:
			s.handleEntity(w, r, db, t)
		case http.MethodPatch, http.MethodPut, "MERGE":
			s.handleUpdate(w, r, db, t)
		case http.MethodDelete:
			s.handleDelete(w, r, db, t)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method+" is not allowed on an entity")
		}
	}
}

func baseURL(r *http.Request) string {
	return "http://" + r.Host
}

func (s *Service) entityPath(set *entitySet, entity any) string {
	key := fieldValue(entity, set.key)
	lit := fmt.Sprint(key)
	if str, ok := key.(string); ok {
		lit = "'" + strings.ReplaceAll(str, "'", "''") + "'"
	}
	return set.name + "(" + lit + ")"
}

func fieldValue(entity any, name string) any {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	f := v.FieldByName(name)
	if !f.IsValid() {
		return nil
	}
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return nil
		}
		f = f.Elem()
	}
	return f.Interface()
}

// etag is a weak ETag over the JSON form of entity.
func etag(entity any) string {
	body, err := json.Marshal(entity)
	if err != nil {
		return ""
	}
	return `W/"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

// record renders entity as a JSON object with its annotations.
func (s *Service) record(set *entitySet, entity any) (map[string]any, error) {
	body, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if set.concurrency {
		out["@odata.etag"] = etag(entity)
	}
	return out, nil
}

func (s *Service) findByKey(db *gorm.DB, t *target) (any, error) {
	entity := t.set.newEntity()
	res := db.Where(t.set.columns[t.keyOf]+" = ?", t.key).Limit(1).Find(entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errNotFound(fmt.Sprintf("no %s entity with key %v", t.set.name, t.key))
	}
	return entity, nil
}

func (s *Service) handleEntity(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	entity, err := s.findByKey(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeEntity(w, r, http.StatusOK, t.set, entity)
}

func (s *Service) writeEntity(w http.ResponseWriter, r *http.Request, status int, set *entitySet, entity any) {
	rec, err := s.record(set, entity)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	rec["@odata.context"] = baseURL(r) + "/$metadata#" + set.name + "/$entity"
	if set.concurrency {
		w.Header().Set("ETag", etag(entity))
	}
	s.writeJSON(w, status, rec)
}

func (s *Service) handleCollection(w http.ResponseWriter, r *http.Request, db *gorm.DB, set *entitySet, extra *scope) {
	q, err := parseQuery(set, r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}
	if extra != nil {
		q.where(*extra)
	}

	var total int64
	if q.count || s.pageSize > 0 {
		if err := q.filtered(db.Model(set.newEntity())).Count(&total).Error; err != nil {
			s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
	}

	paged := false
	top := q.limit
	if s.pageSize > 0 && (q.limit == nil || *q.limit > s.pageSize) {
		q.offset += q.skipToken
		n := s.pageSize
		if q.limit != nil && *q.limit-q.skipToken < n {
			n = *q.limit - q.skipToken
		}
		q.limit = &n
		paged = true
	}

	rows := set.newSlice()
	if err := q.apply(db.Model(set.newEntity())).Find(rows.Interface()).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	items := rows.Elem()
	value := make([]map[string]any, 0, items.Len())
	for i := 0; i < items.Len(); i++ {
		rec, err := s.record(set, items.Index(i).Addr().Interface())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
		value = append(value, rec)
	}

	out := map[string]any{
		"@odata.context": baseURL(r) + "/$metadata#" + set.name,
		"value":          value,
	}
	if q.count {
		out["@odata.count"] = total
	}
	token := q.skipToken + len(value)
	more := top == nil || token < *top
	if next := q.offset + len(value); paged && more && len(value) > 0 && int64(next) < total {
		query := r.URL.Query()
		query.Set("$skiptoken", strconv.Itoa(token))
		out["@odata.nextLink"] = baseURL(r) + r.URL.Path + "?" + query.Encode()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleCount(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	set := t.set
	var extra *scope
	if t.nav != "" {
		target, sc, err := s.navigationScope(db, t)
		if err != nil {
			s.fail(w, err)
			return
		}
		set, extra = target, sc
	}
	q, err := parseQuery(set, r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}
	if extra != nil {
		q.where(*extra)
	}
	var n int64
	if err := q.filtered(db.Model(set.newEntity())).Count(&n).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set(headerODataVersion, "4.0")
	if _, err := io.WriteString(w, strconv.FormatInt(n, 10)); err != nil {
		s.logger.Error("Error writing count", "error", err)
	}
}

// navigationScope resolves a collection navigation to a filter on its
// target set.
func (s *Service) navigationScope(db *gorm.DB, t *target) (*entitySet, *scope, error) {
	if t.key == nil {
		return nil, nil, errors.New("navigation needs a key")
	}
	nav := t.set.navigations[t.nav]
	targetSet := s.sets[nav.target]
	source, err := s.findByKey(db, t)
	if err != nil {
		return nil, nil, err
	}
	if nav.collection {
		return targetSet, &scope{Condition: targetSet.columns[nav.foreignKey] + " = ?", Args: []any{fieldValue(source, t.set.key)}}, nil
	}
	fk := fieldValue(source, nav.foreignKey)
	if fk == nil {
		return targetSet, &scope{Condition: "1 = 0"}, nil
	}
	return targetSet, &scope{Condition: targetSet.columns[targetSet.key] + " = ?", Args: []any{fk}}, nil
}

func (s *Service) handleNavigation(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "navigation properties are read-only, use $ref")
		return
	}
	targetSet, sc, err := s.navigationScope(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	if t.set.navigations[t.nav].collection {
		s.handleCollection(w, r, db, targetSet, sc)
		return
	}
	entity := targetSet.newEntity()
	res := db.Where(sc.Condition, sc.Args...).Limit(1).Find(entity)
	if res.Error != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", res.Error.Error())
		return
	}
	if res.RowsAffected == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeEntity(w, r, http.StatusOK, targetSet, entity)
}

type preconditionError struct {
	status int
	msg    string
}

func (e *preconditionError) Error() string { return e.msg }

// checkIfMatch enforces optimistic concurrency on sets that declare it.
func checkIfMatch(r *http.Request, set *entitySet, entity any) error {
	if !set.concurrency {
		return nil
	}
	match := r.Header.Get("If-Match")
	switch {
	case match == "":
		return &preconditionError{status: http.StatusPreconditionRequired, msg: set.name + " requires If-Match"}
	case match == "*", match == etag(entity):
		return nil
	default:
		return &preconditionError{status: http.StatusPreconditionFailed, msg: "the entity was changed"}
	}
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	entity, err := s.findByKey(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := checkIfMatch(r, t.set, entity); err != nil {
		s.fail(w, err)
		return
	}
	if err := db.Delete(entity).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return payload, nil
}

// keyFromURI reads the key of an entity URI such as
// http://host/Categories(2).
func (s *Service) keyFromURI(uri string, set *entitySet) (any, error) {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		uri = u.Path
	}
	uri = strings.TrimPrefix(uri, "/")
	t, err := s.parsePath(uri)
	if err != nil {
		return nil, err
	}
	if t.set != set || t.key == nil {
		return nil, fmt.Errorf("%q does not address a %s entity", uri, set.name)
	}
	if t.keyOf != set.key {
		return nil, fmt.Errorf("%q must use the primary key", uri)
	}
	return t.key, nil
}

func preferMinimal(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=minimal")
}

func preferRepresentation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, db *gorm.DB, set *entitySet) {
	payload, err := readBody(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var entity any
	err = db.Transaction(func(tx *gorm.DB) error {
		entity, err = s.create(tx, set, payload)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	location := baseURL(r) + "/" + s.entityPath(set, entity)
	w.Header().Set("Location", location)
	w.Header().Set("OData-EntityId", location)
	if preferMinimal(r) {
		w.Header().Set("Preference-Applied", "return=minimal")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeEntity(w, r, http.StatusCreated, set, entity)
}

// create inserts payload into set. Nested entries of single-valued links
// are created first, those of collections afterwards.
func (s *Service) create(db *gorm.DB, set *entitySet, payload map[string]any) (any, error) {
	props, nested, err := s.split(set, payload)
	if err != nil {
		return nil, err
	}
	for name, value := range nested {
		nav := set.navigations[name]
		if nav.collection {
			continue
		}
		child, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("nested %s must be an object", name)
		}
		created, err := s.create(db, s.sets[nav.target], child)
		if err != nil {
			return nil, err
		}
		props[nav.foreignKey] = fieldValue(created, s.sets[nav.target].key)
	}

	entity, err := decodeEntity(set, props)
	if err != nil {
		return nil, err
	}
	if err := db.Create(entity).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s entity: %w", set.name, err)
	}

	for name, value := range nested {
		nav := set.navigations[name]
		if !nav.collection {
			continue
		}
		children, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("nested %s must be an array", name)
		}
		for _, c := range children {
			child, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("nested %s entries must be objects", name)
			}
			child[nav.foreignKey] = fieldValue(entity, set.key)
			if _, err := s.create(db, s.sets[nav.target], child); err != nil {
				return nil, err
			}
		}
	}
	return entity, nil
}

// split separates structural properties from nested entries and resolves
// @odata.bind references into foreign keys. Other annotations are dropped.
func (s *Service) split(set *entitySet, payload map[string]any) (map[string]any, map[string]any, error) {
	props := map[string]any{}
	nested := map[string]any{}
	for k, v := range payload {
		if name, ok := strings.CutSuffix(k, "@odata.bind"); ok {
			nav, known := set.navigations[name]
			if !known {
				return nil, nil, fmt.Errorf("'%s' is not a navigation property of %s", name, set.name)
			}
			if nav.collection {
				return nil, nil, fmt.Errorf("binding collection %s is not supported", name)
			}
			uri, ok := v.(string)
			if !ok {
				return nil, nil, fmt.Errorf("%s must be a URI", k)
			}
			key, err := s.keyFromURI(uri, s.sets[nav.target])
			if err != nil {
				return nil, nil, err
			}
			props[nav.foreignKey] = key
			continue
		}
		if strings.Contains(k, "@") {
			continue
		}
		if _, ok := set.navigations[k]; ok {
			nested[k] = v
			continue
		}
		if _, ok := set.columns[k]; !ok {
			return nil, nil, fmt.Errorf("'%s' is not a property of %s", k, set.name)
		}
		props[k] = v
	}
	return props, nested, nil
}

func decodeEntity(set *entitySet, props map[string]any) (any, error) {
	body, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	entity := set.newEntity()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(entity); err != nil {
		return nil, fmt.Errorf("invalid %s entity: %w", set.name, err)
	}
	return entity, nil
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	entity, err := s.findByKey(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := checkIfMatch(r, t.set, entity); err != nil {
		s.fail(w, err)
		return
	}
	payload, err := readBody(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	props, nested, err := s.split(t.set, payload)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(nested) > 0 {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "nested entries are not allowed in updates")
		return
	}
	delete(props, t.set.key)

	// Decoding through the model converts JSON values to column types.
	typed, err := decodeEntity(t.set, props)
	if err != nil {
		s.fail(w, err)
		return
	}
	changes := make(map[string]any, len(props))
	for name := range props {
		changes[t.set.columns[name]] = reflect.ValueOf(typed).Elem().FieldByName(name).Interface()
	}
	if len(changes) > 0 {
		if err := db.Model(entity).Updates(changes).Error; err != nil {
			s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
	}

	if !preferRepresentation(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	updated, err := s.findByKey(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeEntity(w, r, http.StatusOK, t.set, updated)
}

// handleRef adds or removes references: PUT/POST set a link, DELETE
// clears it. Collection links are kept as foreign keys on their targets.
func (s *Service) handleRef(w http.ResponseWriter, r *http.Request, db *gorm.DB, t *target) {
	if t.nav == "" || t.key == nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "$ref needs an entity and a navigation property")
		return
	}
	source, err := s.findByKey(db, t)
	if err != nil {
		s.fail(w, err)
		return
	}
	nav := t.set.navigations[t.nav]
	targetSet := s.sets[nav.target]

	var targetKey any
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		payload, err := readBody(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		id, _ := payload["@odata.id"].(string)
		if targetKey, err = s.keyFromURI(id, targetSet); err != nil {
			s.fail(w, err)
			return
		}
	case http.MethodDelete:
		if nav.collection {
			if targetKey, err = s.keyFromURI(r.URL.Query().Get("$id"), targetSet); err != nil {
				s.fail(w, err)
				return
			}
		}
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method+" is not allowed on $ref")
		return
	}

	if nav.collection {
		var fk any
		if r.Method != http.MethodDelete {
			fk = fieldValue(source, t.set.key)
		}
		res := db.Model(targetSet.newEntity()).
			Where(targetSet.columns[targetSet.key]+" = ?", targetKey).
			Update(targetSet.columns[nav.foreignKey], fk)
		if res.Error != nil {
			s.writeError(w, http.StatusInternalServerError, "InternalError", res.Error.Error())
			return
		}
		if res.RowsAffected == 0 {
			s.fail(w, errNotFound(fmt.Sprintf("no %s entity with key %v", targetSet.name, targetKey)))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if targetKey != nil {
		if _, err := s.findByKey(db, &target{set: targetSet, key: targetKey, keyOf: targetSet.key}); err != nil {
			s.fail(w, err)
			return
		}
	}
	if err := db.Model(source).Update(t.set.columns[nav.foreignKey], targetKey).Error; err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;odata.metadata=minimal")
	w.Header().Set(headerODataVersion, "4.0")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error writing response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
