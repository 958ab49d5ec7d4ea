package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		Heartbeat{Name: "node_5_12000", IP: "10.0.0.5", Port: 12000, OS: "linux"},
		FileOffer{Filename: "hello.txt", Size: 13, MD5: "6f5902ac237024bdd0c176cb93063dc4"},
		FileAccept{},
		FileReject{Reason: "busy"},
		FileMeta{Chunks: 4, ChunkSize: 65536},
		FileChunk{Seq: 0, Data: []byte("hello, world!")},
		FileDone{MD5: "6f5902ac237024bdd0c176cb93063dc4"},
		FileVerifyOK{},
		FileVerifyFail{Expected: "aaa", Got: "bbb"},
	}

	for _, want := range cases {
		body, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", want, err)
		}

		got, err := Decode(body)
		if err != nil {
			t.Fatalf("Decode(%s): %v", body, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch: got %#v, want %#v", got, want)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"NOT_A_REAL_TYPE"}`))
	if err != ErrUnknownType {
		t.Fatalf("Decode unknown type: got %v, want ErrUnknownType", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err != ErrMalformed {
		t.Fatalf("Decode malformed: got %v, want ErrMalformed", err)
	}
}

func TestWriteReadMessageFraming(t *testing.T) {
	var buf bytes.Buffer

	msgs := []Message{
		FileOffer{Filename: "a.bin", Size: 200 * 1024, MD5: "deadbeef"},
		FileMeta{Chunks: 4, ChunkSize: 65536},
		FileChunk{Seq: 1, Data: bytes.Repeat([]byte{0xAB}, 100)},
	}
	for _, m := range msgs {
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	for _, want := range msgs {
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("framed round trip mismatch: got %#v, want %#v", got, want)
		}
	}
}

func TestReadMessageBadLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // zero-length frame is invalid for this protocol (no keep-alives)

	_, err := ReadMessage(&buf)
	if err != ErrBadLengthPrefix {
		t.Fatalf("ReadMessage zero length: got %v, want ErrBadLengthPrefix", err)
	}
}

func TestTypeOf(t *testing.T) {
	body, err := Encode(FileReject{Reason: "nope"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	typ, err := TypeOf(body)
	if err != nil {
		t.Fatalf("TypeOf: %v", err)
	}
	if typ != TypeFileReject {
		t.Fatalf("TypeOf = %s, want %s", typ, TypeFileReject)
	}
}
