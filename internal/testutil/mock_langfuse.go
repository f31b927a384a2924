// Package testutil provides testing utilities for the Langfuse ETL.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path under which the mock serves the public API.
const APIPrefix = "/api/public"

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
	// Times limits how often the response is served before normal paging
	// resumes; 0 means always.
	Times int
}

// timeFilters maps an entity path to its record time field and window params.
var timeFilters = map[string][3]string{
	"traces":       {"timestamp", "fromTimestamp", "toTimestamp"},
	"scores":       {"timestamp", "fromTimestamp", "toTimestamp"},
	"observations": {"startTime", "fromStartTime", "toStartTime"},
}

// MockLangfuse is a configurable mock of the Langfuse public API. It serves
// traces, scores and observations page by page like the real API.
type MockLangfuse struct {
	server *httptest.Server
	mu     sync.Mutex

	handlers   map[string]http.HandlerFunc
	records    map[string][]map[string]any
	failures   map[string]*MockResponse
	authHeader string

	// Tracking
	RequestCount int
	requests     map[string][]url.Values
}

// NewMockLangfuse creates a new mock Langfuse server.
func NewMockLangfuse() *MockLangfuse {
	mock := &MockLangfuse{
		handlers: make(map[string]http.HandlerFunc),
		records:  make(map[string][]map[string]any),
		failures: make(map[string]*MockResponse),
		requests: make(map[string][]url.Values),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the base URL of the mocked public API.
func (m *MockLangfuse) URL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockLangfuse) Close() {
	m.server.Close()
}

// Reset clears request tracking.
func (m *MockLangfuse) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.requests = make(map[string][]url.Values)
}

// RequireAuth makes the mock reject requests without the given key pair.
func (m *MockLangfuse) RequireAuth(publicKey, secretKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(publicKey+":"+secretKey))
}

// SetHandler replaces the handler of an entity path such as "traces".
func (m *MockLangfuse) SetHandler(entity string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[entity] = handler
}

// SetResponse serves resp for every request of an entity path.
func (m *MockLangfuse) SetResponse(entity string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := resp
	m.failures[entity] = &r
}

// FailTrace serves resp for observation queries of one trace.
func (m *MockLangfuse) FailTrace(traceID string, resp MockResponse) {
	m.SetResponse("observations:"+traceID, resp)
}

// AddTraces adds trace records.
func (m *MockLangfuse) AddTraces(records ...map[string]any) { m.add("traces", records) }

// AddScores adds score records.
func (m *MockLangfuse) AddScores(records ...map[string]any) { m.add("scores", records) }

// AddObservations adds observation records.
func (m *MockLangfuse) AddObservations(records ...map[string]any) { m.add("observations", records) }

func (m *MockLangfuse) add(entity string, records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[entity] = append(m.records[entity], records...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLangfuse) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// Requests returns the query parameters of every request to an entity path.
func (m *MockLangfuse) Requests(entity string) []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.requests[entity]...)
}

func (m *MockLangfuse) serve(w http.ResponseWriter, r *http.Request) {
	entity := strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix), "/")
	query := r.URL.Query()

	m.mu.Lock()
	m.RequestCount++
	m.requests[entity] = append(m.requests[entity], query)
	authHeader := m.authHeader
	handler := m.handlers[entity]
	failure := m.takeFailure(entity, query.Get("traceId"))
	m.mu.Unlock()

	if authHeader != "" && r.Header.Get("Authorization") != authHeader {
		writeJSON(w, http.StatusUnauthorized, `{"message":"Invalid credentials"}`, nil)
		return
	}

	if failure != nil {
		if failure.Delay > 0 {
			time.Sleep(failure.Delay)
		}
		writeJSON(w, failure.StatusCode, failure.Body, failure.Headers)
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	m.servePage(w, entity, query)
}

// takeFailure returns the canned response for a request, if any. Caller holds mu.
func (m *MockLangfuse) takeFailure(entity, traceID string) *MockResponse {
	keys := []string{entity}
	if traceID != "" {
		keys = append([]string{entity + ":" + traceID}, keys...)
	}
	for _, key := range keys {
		resp, ok := m.failures[key]
		if !ok {
			continue
		}
		out := *resp
		if resp.Times > 0 {
			resp.Times--
			if resp.Times == 0 {
				delete(m.failures, key)
			}
		}
		return &out
	}
	return nil
}

func (m *MockLangfuse) servePage(w http.ResponseWriter, entity string, query url.Values) {
	filter, ok := timeFilters[entity]
	if !ok {
		writeJSON(w, http.StatusNotFound, `{"message":"Not found"}`, nil)
		return
	}

	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit < 1 {
		limit = 50
	}

	m.mu.Lock()
	var matched []map[string]any
	for _, rec := range m.records[entity] {
		if traceID := query.Get("traceId"); traceID != "" && rec["traceId"] != traceID {
			continue
		}
		if ts, ok := rec[filter[0]].(string); ok {
			from, to := query.Get(filter[1]), query.Get(filter[2])
			if (from != "" && ts < from) || (to != "" && ts >= to) {
				continue
			}
		}
		matched = append(matched, rec)
	}
	m.mu.Unlock()

	start := (page - 1) * limit
	end := start + limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	data := matched[start:end]
	if data == nil {
		data = []map[string]any{}
	}
	totalPages := (len(matched) + limit - 1) / limit

	body, err := json.Marshal(map[string]any{
		"data": data,
		"meta": map[string]int{
			"page":       page,
			"limit":      limit,
			"totalItems": len(matched),
			"totalPages": totalPages,
		},
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fmt.Sprintf(`{"message":%q}`, err.Error()), nil)
		return
	}
	writeJSON(w, http.StatusOK, string(body), nil)
}

func writeJSON(w http.ResponseWriter, status int, body string, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 response with an optional Retry-After header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
	}
	if retryAfter != "" {
		resp.Headers = map[string]string{"Retry-After": retryAfter}
	}
	return resp
}

// NewTrace builds a trace record at the given RFC 3339 timestamp.
func NewTrace(id, timestamp string) map[string]any {
	return map[string]any{
		"id":        id,
		"timestamp": timestamp,
		"name":      "chat-completion",
		"input":     map[string]any{"messages": []any{"hello"}},
		"output":    "hi there",
		"sessionId": "session-" + id,
		"userId":    "user-1",
		"metadata":  map[string]any{},
		"tags":      []any{"test"},
		"public":    false,
		"htmlPath":  "/project/test/traces/" + id,
		"totalCost": 0.0012,
		"latency":   0.8,
		"projectId": "test",
	}
}

// NewScore builds a score record of a trace.
func NewScore(id, traceID, timestamp string) map[string]any {
	return map[string]any{
		"id":        id,
		"traceId":   traceID,
		"name":      "helpfulness",
		"value":     1,
		"source":    "API",
		"timestamp": timestamp,
		"comment":   nil,
	}
}

// NewObservation builds a generation observation of a trace.
func NewObservation(id, traceID, startTime string) map[string]any {
	return map[string]any{
		"id":              id,
		"traceId":         traceID,
		"type":            "GENERATION",
		"name":            "llm-call",
		"startTime":       startTime,
		"endTime":         startTime,
		"model":           "gpt-4o",
		"modelParameters": map[string]any{"temperature": 0.2},
		"input":           "prompt",
		"output":          "completion",
		"usage":           map[string]any{"input": 10, "output": 20, "total": 30},
		"level":           "DEFAULT",
		"totalPrice":      0.0004,
		"latency":         0.5,
		"totalToken":      30,
	}
}
