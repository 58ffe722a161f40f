// Package nexustest serves an in-memory Nexus-style store over httptest for
// tests of the client and the lifecycle operations.
package nexustest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Keys written by the store
const (
	KeyID           = "@id"
	KeyType         = "@type"
	KeyRev          = "nxv:rev"
	KeyDeprecated   = "nxv:deprecated"
	KeyDistribution = "distribution"
)

// Server is a fake store. The zero value is not usable; create it with New.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	docs       map[string]map[string]interface{}
	files      map[string]file
	queries    map[string]query
	requests   map[string]int
	gets       map[string]int
	queryCount int
	token      string
	inline     bool
	onQuery    func(n int)
}

type file struct {
	content     []byte
	contentType string
}

type query struct {
	scope      string
	filter     json.RawMessage
	deprecated *bool
}

// Option configures a Server
type Option func(*Server)

// WithToken makes the server reject requests without this bearer token
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithInlineQueries answers queries with the full result page instead of a
// redirect
func WithInlineQueries() Option {
	return func(s *Server) { s.inline = true }
}

// WithQueryHook runs fn with the running query count before each query is
// evaluated
func WithQueryHook(fn func(n int)) Option {
	return func(s *Server) { s.onQuery = fn }
}

// New starts a fake store. Call Close when done.
func New(opts ...Option) *Server {
	s := &Server{
		docs:     make(map[string]map[string]interface{}),
		files:    make(map[string]file),
		queries:  make(map[string]query),
		requests: make(map[string]int),
		gets:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.count, s.auth)
	r.Post("/v0/data/*", s.handleCreate)
	r.Get("/v0/data/*", s.handleGet)
	r.Put("/v0/data/*", s.handlePut)
	r.Delete("/v0/data/*", s.handleDeprecate)
	r.Post("/v0/queries/*", s.handleQuery)
	r.Get("/v0/results/{qid}", s.handleResults)
	r.Get("/v0/files/{fid}", s.handleFile)

	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL returns the API root to configure clients with
func (s *Server) BaseURL() string {
	return s.URL + "/v0"
}

// Put stores doc in the collection tag/version and returns its identifier.
// Missing revision and deprecation keys are filled in.
func (s *Server) Put(collection string, doc map[string]interface{}) string {
	id := s.BaseURL() + "/data/" + strings.Trim(collection, "/") + "/" + uuid.New().String()
	s.PutAt(id, doc)
	return id
}

// PutAt stores doc under id
func (s *Server) PutAt(id string, doc map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := clone(doc)
	stored[KeyID] = id
	if _, ok := stored[KeyRev]; !ok {
		stored[KeyRev] = float64(1)
	}
	if _, ok := stored[KeyDeprecated]; !ok {
		stored[KeyDeprecated] = false
	}
	s.docs[id] = stored
}

// Doc returns a copy of the stored document
func (s *Server) Doc(id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return clone(doc), true
}

// Requests returns how many requests with the given method were served. An
// empty method counts all requests.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method == "" {
		total := 0
		for _, n := range s.requests {
			total += n
		}
		return total
	}
	return s.requests[method]
}

// Gets returns how many times a resource was fetched
func (s *Server) Gets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.Method]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) resourceID(r *http.Request) string {
	return s.BaseURL() + "/data/" + strings.Trim(chi.URLParam(r, "*"), "/")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := checkStubs(doc); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	id := s.resourceID(r) + "/" + uuid.New().String()
	doc[KeyRev] = float64(1)
	doc[KeyDeprecated] = false
	doc[KeyID] = id

	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, identity(doc))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := s.resourceID(r)

	s.mu.Lock()
	s.gets[id]++
	doc, ok := s.docs[id]
	if ok {
		doc = clone(doc)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no resource at "+id)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id := s.resourceID(r)
	if strings.HasSuffix(id, "/attachment") {
		s.handleAttach(w, r, strings.TrimSuffix(id, "/attachment"))
		return
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := checkStubs(doc); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, status, msg := s.checkRev(id, r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}
	doc[KeyID] = id
	doc[KeyRev] = current[KeyRev].(float64) + 1
	doc[KeyDeprecated] = current[KeyDeprecated]
	if dist, ok := current[KeyDistribution]; ok {
		if _, set := doc[KeyDistribution]; !set {
			doc[KeyDistribution] = dist
		}
	}
	s.docs[id] = doc
	writeJSON(w, http.StatusOK, identity(doc))
}

func (s *Server) handleDeprecate(w http.ResponseWriter, r *http.Request) {
	id := s.resourceID(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, status, msg := s.checkRev(id, r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}
	current[KeyRev] = current[KeyRev].(float64) + 1
	current[KeyDeprecated] = true
	writeJSON(w, http.StatusOK, identity(current))
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request, id string) {
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part: "+err.Error())
		return
	}
	defer part.Close()
	content, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, status, msg := s.checkRev(id, r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	fid := uuid.New().String()
	contentType := header.Header.Get("Content-Type")
	s.files[fid] = file{content: content, contentType: contentType}

	sum := sha256.Sum256(content)
	dist := map[string]interface{}{
		"downloadURL":      s.BaseURL() + "/files/" + fid,
		"originalFileName": header.Filename,
		"mediaType":        contentType,
		"contentSize":      map[string]interface{}{"unit": "byte", "value": float64(len(content))},
		"digest":           map[string]interface{}{"algorithm": "SHA-256", "value": hex.EncodeToString(sum[:])},
	}
	current[KeyDistribution] = dist
	current[KeyRev] = current[KeyRev].(float64) + 1

	resp := identity(current)
	resp[KeyDistribution] = dist
	writeJSON(w, http.StatusOK, resp)
}

// checkRev must be called with s.mu held
func (s *Server) checkRev(id string, r *http.Request) (map[string]interface{}, int, string) {
	current, ok := s.docs[id]
	if !ok {
		return nil, http.StatusNotFound, "no resource at " + id
	}
	rev, err := strconv.Atoi(r.URL.Query().Get("rev"))
	if err != nil {
		return nil, http.StatusBadRequest, "rev query parameter is required"
	}
	if float64(rev) != current[KeyRev].(float64) {
		return nil, http.StatusConflict, fmt.Sprintf("revision %d is stale, current is %v", rev, current[KeyRev])
	}
	return current, 0, ""
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filter     json.RawMessage `json:"filter"`
		Deprecated *bool           `json:"deprecated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := query{
		scope:      s.BaseURL() + "/data/" + strings.Trim(chi.URLParam(r, "*"), "/") + "/",
		filter:     body.Filter,
		deprecated: body.Deprecated,
	}

	s.mu.Lock()
	s.queryCount++
	n := s.queryCount
	hook := s.onQuery
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	if s.inline {
		page, err := s.evaluate(q, 0, -1)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	qid := uuid.New().String()
	s.mu.Lock()
	s.queries[qid] = q
	s.mu.Unlock()

	w.Header().Set("Location", s.BaseURL()+"/results/"+qid)
	w.WriteHeader(http.StatusSeeOther)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	q, ok := s.queries[chi.URLParam(r, "qid")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown query")
		return
	}

	from, _ := strconv.Atoi(r.URL.Query().Get("from"))
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		size = 10
	}
	page, err := s.evaluate(q, from, size)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.files[chi.URLParam(r, "fid")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}
	if f.contentType != "" {
		w.Header().Set("Content-Type", f.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(f.content)))
	_, _ = w.Write(f.content)
}

// evaluate matches the scoped documents against the filter, ordered by id.
// size < 0 returns every match.
func (s *Server) evaluate(q query, from, size int) (map[string]interface{}, error) {
	var expr interface{}
	if len(q.filter) > 0 {
		if err := json.Unmarshal(q.filter, &expr); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		if strings.HasPrefix(id, q.scope) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var matched []map[string]interface{}
	for _, id := range ids {
		doc := s.docs[id]
		if q.deprecated != nil && doc[KeyDeprecated] != *q.deprecated {
			continue
		}
		ok, err := match(expr, doc)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	s.mu.Unlock()

	results := []interface{}{}
	for i := from; i < len(matched) && (size < 0 || i < from+size); i++ {
		doc := matched[i]
		src := map[string]interface{}{KeyID: doc[KeyID]}
		if t, ok := doc[KeyType]; ok {
			src[KeyType] = t
		}
		results = append(results, map[string]interface{}{
			"resultId": doc[KeyID],
			"source":   src,
		})
	}
	return map[string]interface{}{
		"total":   len(matched),
		"results": results,
	}, nil
}

// checkStubs rejects reference stubs without a name, like the real store
func checkStubs(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		_, hasID := t[KeyID]
		_, hasType := t[KeyType]
		if hasID && hasType && len(t) == 2 {
			return fmt.Sprintf("reference %v has no name", t[KeyID])
		}
		for _, child := range t {
			if msg := checkStubs(child); msg != "" {
				return msg
			}
		}
	case []interface{}:
		for _, child := range t {
			if msg := checkStubs(child); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func identity(doc map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		KeyID:         doc[KeyID],
		KeyRev:        doc[KeyRev],
		KeyDeprecated: doc[KeyDeprecated],
	}
	if t, ok := doc[KeyType]; ok {
		out[KeyType] = t
	}
	return out
}

func clone(doc map[string]interface{}) map[string]interface{} {
	data, _ := json.Marshal(doc)
	var out map[string]interface{}
	_ = json.Unmarshal(data, &out)
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/ld+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"reason": msg})
}
