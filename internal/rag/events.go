package rag

import (
	"encoding/json"
	"fmt"

	"github.com/dream-ai/docchat/internal/vectorindex"
)

// EventType tags a streamed event.
type EventType string

const (
	EventContent EventType = "content"
	EventSources EventType = "sources"
	EventError   EventType = "error"
)

// Source is one cited passage.
type Source struct {
	Filename string  `json:"filename"`
	FileID   string  `json:"file_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Event is one message of a streamed answer. Only the field matching Type
// is set.
type Event struct {
	Type    EventType
	Delta   string
	Sources []Source
	Message string
}

type contentData struct {
	Delta string `json:"delta"`
}

type sourcesData struct {
	Sources []Source `json:"sources"`
}

type errorData struct {
	Message string `json:"message"`
}

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes e as {"type": ..., "data": {...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventContent:
		data = contentData{Delta: e.Delta}
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		data = sourcesData{Sources: sources}
	case EventError:
		data = errorData{Message: e.Message}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.Type, Data: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*e = Event{Type: env.Type}
	switch env.Type {
	case EventContent:
		var d contentData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		e.Delta = d.Delta
	case EventSources:
		var d sourcesData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		e.Sources = d.Sources
	case EventError:
		var d errorData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		e.Message = d.Message
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}
	return nil
}

// toSources keeps hit order.
func toSources(hits []vectorindex.Hit) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{Filename: h.Filename, FileID: h.FileID, Text: h.Text, Score: h.Score}
	}
	return out
}
