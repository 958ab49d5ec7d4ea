package wire

import "encoding/json"

func unmarshalJSON(b []byte, v any) error { return json.Unmarshal(b, v) }

// envelope is the single JSON shape every message type marshals into and
// unmarshals out of. Fields are tagged omitempty so each message type's
// encoded form only carries the fields the wire table in §6 assigns it.
type envelope struct {
	Type Type `json:"type"`

	// HEARTBEAT
	Name string `json:"name,omitempty"`
	IP   string `json:"ip,omitempty"`
	Port int    `json:"port,omitempty"`
	OS   string `json:"os,omitempty"`

	// FILE_OFFER
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MD5      string `json:"md5,omitempty"`

	// FILE_REJECT
	Reason string `json:"reason,omitempty"`

	// FILE_META
	Chunks    int `json:"chunks,omitempty"`
	ChunkSize int `json:"chunk_size,omitempty"`

	// FILE_CHUNK
	Seq  int    `json:"seq,omitempty"`
	Data []byte `json:"data,omitempty"`

	// FILE_VERIFY_FAIL
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

// Encode converts a typed Message into its wire JSON body. The switch is
// exhaustive over every Message implementation; a message type without a
// case here makes Encode return ErrUnknownType.
func Encode(msg Message) ([]byte, error) {
	env := envelope{Type: msg.messageType()}

	switch m := msg.(type) {
	case Heartbeat:
		env.Name, env.IP, env.Port, env.OS = m.Name, m.IP, m.Port, m.OS
	case FileOffer:
		env.Filename, env.Size, env.MD5 = m.Filename, m.Size, m.MD5
	case FileAccept:
	case FileReject:
		env.Reason = m.Reason
	case FileMeta:
		env.Chunks, env.ChunkSize = m.Chunks, m.ChunkSize
	case FileChunk:
		env.Seq, env.Data = m.Seq, m.Data
	case FileDone:
		env.MD5 = m.MD5
	case FileVerifyOK:
	case FileVerifyFail:
		env.Expected, env.Got = m.Expected, m.Got
	default:
		return nil, ErrUnknownType
	}

	return json.Marshal(env)
}

// Decode parses a wire JSON body and returns the typed Message it names.
func Decode(body []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrMalformed
	}

	switch env.Type {
	case TypeHeartbeat:
		return Heartbeat{Name: env.Name, IP: env.IP, Port: env.Port, OS: env.OS}, nil
	case TypeFileOffer:
		return FileOffer{Filename: env.Filename, Size: env.Size, MD5: env.MD5}, nil
	case TypeFileAccept:
		return FileAccept{}, nil
	case TypeFileReject:
		return FileReject{Reason: env.Reason}, nil
	case TypeFileMeta:
		return FileMeta{Chunks: env.Chunks, ChunkSize: env.ChunkSize}, nil
	case TypeFileChunk:
		return FileChunk{Seq: env.Seq, Data: env.Data}, nil
	case TypeFileDone:
		return FileDone{MD5: env.MD5}, nil
	case TypeFileVerifyOK:
		return FileVerifyOK{}, nil
	case TypeFileVerifyFail:
		return FileVerifyFail{Expected: env.Expected, Got: env.Got}, nil
	default:
		return nil, ErrUnknownType
	}
}
