package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ReviewBatchMessage is the inbound envelope on the review topic. Collectors
// publish one of these per scrape; the submissions inside may target several
// products.
type ReviewBatchMessage struct {
	// Metadata
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	Source    string    `json:"source"`
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	Submissions []models.ReviewSubmission `json:"submissions"`
}

// ParseReviewBatchMessage parses a raw Kafka message into a ReviewBatchMessage
func ParseReviewBatchMessage(data []byte) (*ReviewBatchMessage, error) {
	var msg ReviewBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EventMessage is the outbound envelope on the event topic. Downstream
// consumers (analysis workers, notification fans) key off Type.
type EventMessage struct {
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ToJSON serializes the EventMessage to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageHeaders contains Kafka message headers for efficient filtering
type MessageHeaders struct {
	TenantID    string
	UserID      string
	Source      string
	EventType   string
	TraceParent string
}

// ToKafkaHeaders converts MessageHeaders to a slice of header key-value pairs
func (h *MessageHeaders) ToKafkaHeaders() []Header {
	headers := make([]Header, 0, 5)

	if h.TenantID != "" {
		headers = append(headers, Header{Key: "tenant_id", Value: []byte(h.TenantID)})
	}
	if h.UserID != "" {
		headers = append(headers, Header{Key: "user_id", Value: []byte(h.UserID)})
	}
	if h.Source != "" {
		headers = append(headers, Header{Key: "source", Value: []byte(h.Source)})
	}
	if h.EventType != "" {
		headers = append(headers, Header{Key: "event_type", Value: []byte(h.EventType)})
	}
	if h.TraceParent != "" {
		headers = append(headers, Header{Key: "traceparent", Value: []byte(h.TraceParent)})
	}

	return headers
}

// Header represents a Kafka message header
type Header struct {
	Key   string
	Value []byte
}

// ExtractHeaders extracts MessageHeaders from Kafka headers
func ExtractHeaders(headers []Header) MessageHeaders {
	var mh MessageHeaders
	for _, h := range headers {
		switch h.Key {
		case "tenant_id":
			mh.TenantID = string(h.Value)
		case "user_id":
			mh.UserID = string(h.Value)
		case "source":
			mh.Source = string(h.Value)
		case "event_type":
			mh.EventType = string(h.Value)
		case "traceparent":
			mh.TraceParent = string(h.Value)
		}
	}
	return mh
}
