package aggharness

import (
	"context"
	"errors"
	"fmt"

	"github.com/chendingplano/aggview/api/aggschema"
	"github.com/chendingplano/aggview/api/chstore"
)

// Location codes for insert operations
const (
	LOC_WRITE_ENCODE = "AGV_WRT_001"
	LOC_WRITE_STREAM = "AGV_WRT_002"
)

// Event is one row of the raw table and of the merge view. EventData holds
// the serialized document.
type Event struct {
	EventID   string `ch:"event_id" json:"event_id"`
	EventData string `ch:"event_data" json:"event_data"`
}

// NewEvent serializes doc and returns the row for id.
func NewEvent(id string, doc Document) (Event, error) {
	text, err := EncodeDocument(doc)
	if err != nil {
		return Event{}, &EncodeError{EventID: id, Err: err}
	}
	return Event{EventID: id, EventData: text}, nil
}

// Document decodes EventData.
func (e Event) Document() (Document, error) {
	return DecodeDocument(e.EventData)
}

// Encoding selects the wire form of event_data on insert.
type Encoding int

const (
	// EncodingString sends the JSON text; needs input_format_binary_read_json_as_string.
	EncodingString Encoding = iota
	// EncodingNative sends the decoded document for the driver to encode.
	EncodingNative
)

func (e Encoding) String() string {
	if e == EncodingNative {
		return "native"
	}
	return "string"
}

// EncodingFor picks the encoding the store capabilities allow.
func EncodingFor(caps aggschema.Capabilities) Encoding {
	if caps.ReadJSONAsString {
		return EncodingString
	}
	return EncodingNative
}

// WriteEvents appends events to table through a single insert stream and
// sends it once. Every document is encoded and validated before the stream
// is opened, so an *EncodeError means nothing was sent. A store failure is a
// *WriteError; on an append failure the stream is aborted and never sent.
// It returns the number of rows sent.
func WriteEvents(ctx context.Context, store chstore.Store, sink Sink, table string,
	enc Encoding, validator *DocumentValidator, events ...Event) (int, error) {
	sink = sinkOrNop(sink)
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(events))
	for i, e := range events {
		doc, err := DecodeDocument(e.EventData)
		if err != nil {
			return 0, &EncodeError{Index: i, EventID: e.EventID, Err: err}
		}
		if err := validator.Validate(e.EventData); err != nil {
			return 0, &EncodeError{Index: i, EventID: e.EventID, Err: err}
		}

		var value any
		switch enc {
		case EncodingString:
			value = e.EventData
		case EncodingNative:
			if value, err = nativeValue(doc); err != nil {
				return 0, &EncodeError{Index: i, EventID: e.EventID, Err: err}
			}
		default:
			return 0, &EncodeError{Index: i, EventID: e.EventID, Err: fmt.Errorf("unknown encoding %d", enc)}
		}
		rows = append(rows, []any{e.EventID, value})
	}

	stream, err := store.PrepareInsert(ctx, table, aggschema.ColEventID, aggschema.ColEventData)
	if err != nil {
		return 0, &WriteError{Table: table, Op: "prepare", Err: err}
	}

	for _, row := range rows {
		if err := stream.Append(row...); err != nil {
			if abortErr := stream.Abort(); abortErr != nil {
				err = errors.Join(err, fmt.Errorf("abort: %w", abortErr))
			}
			return 0, &WriteError{Table: table, Op: "append", Err: err}
		}
	}

	if err := stream.Send(); err != nil {
		return 0, &WriteError{Table: table, Op: "send", Err: err}
	}

	sink.RowsWritten(table, len(rows))
	return len(rows), nil
}
