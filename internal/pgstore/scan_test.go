package pgstore

import "testing"

func TestMarshalMetadataEmptyMapBecomesEmptyObject(t *testing.T) {
	data, err := marshalMetadata(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("expected {}, got %q", data)
	}
}

func TestMarshalMetadataRoundTrips(t *testing.T) {
	in := map[string]string{"a": "1", "b": "2"}
	data, err := marshalMetadata(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := unmarshalMetadata(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out["a"] != "1" || out["b"] != "2" {
		t.Fatalf("unexpected round trip result: %+v", out)
	}
}

func TestUnmarshalMetadataEmptyBytesIsNilMap(t *testing.T) {
	out, err := unmarshalMetadata(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected a nil map, got %+v", out)
	}
}

func TestUnmarshalMetadataEmptyObjectIsNilMap(t *testing.T) {
	out, err := unmarshalMetadata([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected a nil map for an empty object, got %+v", out)
	}
}
