package capturelog

import (
	"net/url"
	"time"

	"grimm.is/relaygate/internal/httpcapture"
	"grimm.is/relaygate/internal/logging"
)

// Entry represents a single persisted capture record. Header and body
// contents stay out of the database on purpose: the structured log sink
// already carries them, and the store only needs what the query surface
// (recent captures, per-host stats) filters on.
type Entry struct {
	Timestamp           time.Time `json:"timestamp"`
	Method              string    `json:"method"`
	URL                 string    `json:"url"`
	Host                string    `json:"host"`
	StatusCode          int       `json:"status_code"`
	RequestHeaderCount  int       `json:"request_header_count"`
	ResponseHeaderCount int       `json:"response_header_count"`
	RequestBodyBytes    int64     `json:"request_body_bytes"`
	ResponseBodyBytes   int64     `json:"response_body_bytes"`
}

// Stats represents aggregated capture statistics.
type Stats struct {
	TotalCaptures  int64      `json:"total_captures"`
	ErrorResponses int64      `json:"error_responses"`
	TopHosts       []HostStat `json:"top_hosts"`
}

type HostStat struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// Sink adapts a Store to httpcapture.Sink, persisting each captured
// pair and forwarding it to the structured log as well.
type Sink struct {
	Store *Store
}

func (s Sink) Capture(r httpcapture.Record) {
	httpcapture.LoggingSink{}.Capture(r)
	if s.Store == nil {
		return
	}

	entry := Entry{
		Timestamp:           time.Now(),
		Method:              r.Method,
		URL:                 r.URL,
		Host:                hostOf(r.URL),
		StatusCode:          r.StatusCode,
		RequestHeaderCount:  len(r.RequestHeaders),
		ResponseHeaderCount: len(r.ResponseHeaders),
		RequestBodyBytes:    int64(len(r.RequestBody)),
		ResponseBodyBytes:   int64(len(r.ResponseBody)),
	}
	if err := s.Store.RecordEntry(entry); err != nil {
		logging.Warn("capturelog: failed to persist capture record", "url", r.URL, "error", err)
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
