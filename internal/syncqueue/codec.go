package syncqueue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/casestore/internal/storage"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// encode serializes e as a protobuf Struct. The payload goes through JSON
// first so that any record value maps onto a Struct value.
func encode(e Entry) ([]byte, error) {
	fields := map[string]any{
		"seq":         strconv.FormatUint(e.Seq, 10),
		"collection":  e.Collection,
		"id":          e.ID,
		"operation":   string(e.Operation),
		"priority":    string(e.Priority),
		"enqueued_at": e.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"attempts":    e.Attempts,
		"last_error":  e.LastError,
		"status":      string(e.Status),
	}
	if e.Payload != nil {
		payload, err := jsonMap(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		fields["payload"] = payload
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return proto.Marshal(msg)
}

func decode(b []byte) (Entry, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(b, &msg); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	f := msg.GetFields()

	seq, err := strconv.ParseUint(f["seq"].GetStringValue(), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry seq: %w", err)
	}
	enqueued, err := time.Parse(time.RFC3339Nano, f["enqueued_at"].GetStringValue())
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry time: %w", err)
	}

	e := Entry{
		Seq:        seq,
		Collection: f["collection"].GetStringValue(),
		ID:         f["id"].GetStringValue(),
		Operation:  Operation(f["operation"].GetStringValue()),
		Priority:   Priority(f["priority"].GetStringValue()),
		EnqueuedAt: enqueued,
		Attempts:   int(f["attempts"].GetNumberValue()),
		LastError:  f["last_error"].GetStringValue(),
		Status:     Status(f["status"].GetStringValue()),
	}
	if p := f["payload"].GetStructValue(); p != nil {
		e.Payload = storage.Record(p.AsMap())
	}
	return e, nil
}

func jsonMap(rec storage.Record) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
