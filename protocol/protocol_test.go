package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"netsync/engine"
)

func sampleSnapshot() engine.Snapshot {
	return engine.Snapshot{
		Time: 1700000000123,
		Online: map[engine.EntityID]engine.Entity{
			"1": {ID: "1", Position: engine.Vector2{X: 55, Y: 50}, Speed: engine.DefaultSpeed, LastAckedSeq: 4, LastAckedTime: 1700000000},
		},
		Offline: []engine.Entity{{ID: "2", Position: engine.Vector2{X: 10, Y: 10}}},
	}
}

func TestCodecsRoundTripSnapshotEnvelope(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		codec, err := CodecByName(name)
		if err != nil {
			t.Fatalf("codec %s: %v", name, err)
		}
		data, err := Encode(codec, TypeSnapshot, sampleSnapshot())
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		msgType, err := codec.PeekType(data)
		if err != nil || msgType != TypeSnapshot {
			t.Fatalf("%s peek: type=%q err=%v", name, msgType, err)
		}
		got, err := DecodePayload[engine.Snapshot](codec, data)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		e, ok := got.Online["1"]
		if !ok || e.Position != (engine.Vector2{X: 55, Y: 50}) || e.LastAckedSeq != 4 {
			t.Fatalf("%s: unexpected online entity %+v", name, e)
		}
		if len(got.Offline) != 1 || got.Offline[0].ID != "2" {
			t.Fatalf("%s: unexpected offline %+v", name, got.Offline)
		}
	}
}

func TestCodecsCarryInputDirections(t *testing.T) {
	in := engine.Input{Seq: 9, Time: 1700000000, Directions: engine.DirDown | engine.DirLeft, EntityID: "3"}
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		data, err := Encode(codec, TypeInput, in)
		if err != nil {
			t.Fatalf("%s encode: %v", codec.Name(), err)
		}
		got, err := DecodePayload[engine.Input](codec, data)
		if err != nil {
			t.Fatalf("%s decode: %v", codec.Name(), err)
		}
		if got != in {
			t.Fatalf("%s: expected %+v, got %+v", codec.Name(), in, got)
		}
	}
}

func TestJSONPeekTypeErrors(t *testing.T) {
	c := JSONCodec{}
	if _, err := c.PeekType([]byte(`{"payload":{}}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
	if _, err := c.PeekType([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	msgType, err := c.PeekType([]byte(`{"type":"latency","payload":{"timestamp":5}}`))
	if err != nil || msgType != TypeLatency {
		t.Fatalf("unexpected peek result %q %v", msgType, err)
	}
}

func TestMsgpackPeekTypeMissing(t *testing.T) {
	c := MsgpackCodec{}
	data, err := c.Marshal(map[string]any{"payload": 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := c.PeekType(data); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestCodecByNameUnknown(t *testing.T) {
	if _, err := CodecByName("xml"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
	c, err := CodecByName("")
	if err != nil || c.Name() != "json" || c.Binary() {
		t.Fatalf("expected json default, got %v %v", c, err)
	}
	if !(MsgpackCodec{}).Binary() {
		t.Fatalf("msgpack should use binary frames")
	}
}

func TestSchemaDescribesMessages(t *testing.T) {
	data, err := SchemaJSON()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not json: %v", err)
	}
	text := string(data)
	for _, want := range []string{"netsync wire protocol", "lastAckedSeq", "offline", `"right"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
