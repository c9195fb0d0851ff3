package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// InvalidFormatError is returned when a frame is truncated or otherwise
// malformed.
type InvalidFormatError struct {
	Reason string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid frame: %s", e.Reason)
}

// MessageTooLargeError is returned when a payload would exceed MaxMessageSize.
type MessageTooLargeError struct {
	Size int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message too large: %d bytes (max %d)", e.Size, MaxMessageSize)
}

// VersionMismatchError is returned when a frame's version byte does not
// match ProtocolVersion.
type VersionMismatchError struct {
	Got uint8
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, got %d", ProtocolVersion, e.Got)
}

// envelope carries a variant tag alongside the payload bytes so that message
// types which share a wire type code (PeerJoined/ProjectJoined and so on)
// can still be told apart without ambiguity on decode.
type envelope struct {
	Variant string          `cbor:"1,keyasint" json:"variant"`
	Payload cbor.RawMessage `cbor:"2,keyasint" json:"-"`
}

var cborEncMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

func variantOf(msg any) string {
	switch msg.(type) {
	case Hello:
		return "hello"
	case ClientGoodbye:
		return "goodbye"
	case JoinProject:
		return "join_project"
	case LeaveProject:
		return "leave_project"
	case ClientSyncMessage:
		return "sync_message"
	case SyncRequest:
		return "sync_request"
	case OpenFile:
		return "open_file"
	case CloseFile:
		return "close_file"
	case FileRequest:
		return "file_request"
	case CursorUpdate:
		return "cursor_update"
	case PresenceUpdate:
		return "presence_update"
	case ClientChatMessage:
		return "chat_message"
	case ChatHistoryRequest:
		return "chat_history_request"
	case VoiceJoin:
		return "voice_join"
	case VoiceLeave:
		return "voice_leave"
	case Ping:
		return "ping"

	case Welcome:
		return "welcome"
	case Error:
		return "error"
	case ServerGoodbye:
		return "goodbye"
	case ProjectJoined:
		return "project_joined"
	case PeerJoined:
		return "peer_joined"
	case ProjectLeft:
		return "project_left"
	case PeerLeft:
		return "peer_left"
	case ServerSyncMessage:
		return "sync_message"
	case SyncComplete:
		return "sync_complete"
	case FileContent:
		return "file_content"
	case FileNotFound:
		return "file_not_found"
	case CursorBroadcast:
		return "cursor_broadcast"
	case PresenceBroadcast:
		return "presence_broadcast"
	case ChatBroadcast:
		return "chat_broadcast"
	case ChatHistory:
		return "chat_history"
	case VoiceToken:
		return "voice_token"
	case Pong:
		return "pong"
	case Stats:
		return "stats"
	default:
		return ""
	}
}

// EncodeClient frames a client message: 5-byte header + CBOR envelope.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	return encodeFrame(msg.ClientType(), msg)
}

// EncodeServer frames a server message: 5-byte header + CBOR envelope.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	return encodeFrame(msg.ServerType(), msg)
}

func encodeFrame(t MessageType, msg any) ([]byte, error) {
	payload, err := cborEncMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := envelope{Variant: variantOf(msg), Payload: payload}
	body, err := cborEncMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > MaxMessageSize {
		return nil, &MessageTooLargeError{Size: len(body)}
	}

	buf := make([]byte, 5+len(body))
	buf[0] = ProtocolVersion
	buf[1] = byte(t)
	putU24(buf[2:5], len(body))
	copy(buf[5:], body)
	return buf, nil
}

func putU24(b []byte, n int) {
	b[0] = byte(n >> 16)
	b[1] = byte(n >> 8)
	b[2] = byte(n)
}

func getU24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// Header is the parsed fixed-size frame header.
type Header struct {
	Version MessageType
	Type    MessageType
	Length  int
}

// DecodeHeader parses the 5-byte frame header and validates the version.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 5 {
		return Header{}, &InvalidFormatError{Reason: "frame shorter than 5-byte header"}
	}
	version := data[0]
	if version != ProtocolVersion {
		return Header{}, &VersionMismatchError{Got: version}
	}
	length := getU24(data[2:5])
	if len(data) < 5+length {
		return Header{}, &InvalidFormatError{Reason: fmt.Sprintf("expected %d bytes, got %d", 5+length, len(data))}
	}
	return Header{Version: MessageType(version), Type: MessageType(data[1]), Length: length}, nil
}

// DecodeClient parses a full binary frame into a ClientMessage.
func DecodeClient(data []byte) (ClientMessage, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[5 : 5+hdr.Length]
	var env envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, &InvalidFormatError{Reason: err.Error()}
	}
	return decodeClientVariant(env.Variant, env.Payload)
}

// DecodeServer parses a full binary frame into a ServerMessage.
func DecodeServer(data []byte) (ServerMessage, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[5 : 5+hdr.Length]
	var env envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, &InvalidFormatError{Reason: err.Error()}
	}
	return decodeServerVariant(env.Variant, env.Payload)
}

func decodeClientVariant(variant string, payload cbor.RawMessage) (ClientMessage, error) {
	var err error
	switch variant {
	case "hello":
		var m Hello
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "goodbye":
		var m ClientGoodbye
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "join_project":
		var m JoinProject
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "leave_project":
		var m LeaveProject
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "sync_message":
		var m ClientSyncMessage
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "sync_request":
		var m SyncRequest
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "open_file":
		var m OpenFile
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "close_file":
		var m CloseFile
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "file_request":
		var m FileRequest
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "cursor_update":
		var m CursorUpdate
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "presence_update":
		var m PresenceUpdate
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "chat_message":
		var m ClientChatMessage
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "chat_history_request":
		var m ChatHistoryRequest
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "voice_join":
		var m VoiceJoin
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "voice_leave":
		var m VoiceLeave
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "ping":
		var m Ping
		err = cbor.Unmarshal(payload, &m)
		return m, err
	default:
		return nil, &InvalidFormatError{Reason: "unknown client variant " + variant}
	}
}

func decodeServerVariant(variant string, payload cbor.RawMessage) (ServerMessage, error) {
	var err error
	switch variant {
	case "welcome":
		var m Welcome
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "error":
		var m Error
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "goodbye":
		var m ServerGoodbye
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "project_joined":
		var m ProjectJoined
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "peer_joined":
		var m PeerJoined
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "project_left":
		var m ProjectLeft
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "peer_left":
		var m PeerLeft
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "sync_message":
		var m ServerSyncMessage
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "sync_complete":
		var m SyncComplete
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "file_content":
		var m FileContent
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "file_not_found":
		var m FileNotFound
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "cursor_broadcast":
		var m CursorBroadcast
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "presence_broadcast":
		var m PresenceBroadcast
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "chat_broadcast":
		var m ChatBroadcast
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "chat_history":
		var m ChatHistory
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "voice_token":
		var m VoiceToken
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "pong":
		var m Pong
		err = cbor.Unmarshal(payload, &m)
		return m, err
	case "stats":
		var m Stats
		err = cbor.Unmarshal(payload, &m)
		return m, err
	default:
		return nil, &InvalidFormatError{Reason: "unknown server variant " + variant}
	}
}

// --- JSON fallback (text frames) ---

type jsonEnvelope struct {
	Variant string          `json:"variant"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeClientJSON renders a client message as the JSON fallback used on
// WebSocket text frames.
func EncodeClientJSON(msg ClientMessage) ([]byte, error) {
	return encodeJSON(variantOf(msg), msg)
}

// EncodeServerJSON renders a server message as the JSON fallback used on
// WebSocket text frames.
func EncodeServerJSON(msg ServerMessage) ([]byte, error) {
	return encodeJSON(variantOf(msg), msg)
}

func encodeJSON(variant string, msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Variant: variant, Payload: payload})
}

// DecodeClientJSON parses a JSON text frame into a ClientMessage.
func DecodeClientJSON(data []byte) (ClientMessage, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &InvalidFormatError{Reason: err.Error()}
	}
	return decodeClientVariantJSON(env.Variant, env.Payload)
}

// DecodeServerJSON parses a JSON text frame into a ServerMessage.
func DecodeServerJSON(data []byte) (ServerMessage, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &InvalidFormatError{Reason: err.Error()}
	}
	return decodeServerVariantJSON(env.Variant, env.Payload)
}

func decodeClientVariantJSON(variant string, payload json.RawMessage) (ClientMessage, error) {
	var err error
	switch variant {
	case "hello":
		var m Hello
		err = json.Unmarshal(payload, &m)
		return m, err
	case "goodbye":
		var m ClientGoodbye
		err = json.Unmarshal(payload, &m)
		return m, err
	case "join_project":
		var m JoinProject
		err = json.Unmarshal(payload, &m)
		return m, err
	case "leave_project":
		var m LeaveProject
		err = json.Unmarshal(payload, &m)
		return m, err
	case "sync_message":
		var m ClientSyncMessage
		err = json.Unmarshal(payload, &m)
		return m, err
	case "sync_request":
		var m SyncRequest
		err = json.Unmarshal(payload, &m)
		return m, err
	case "open_file":
		var m OpenFile
		err = json.Unmarshal(payload, &m)
		return m, err
	case "close_file":
		var m CloseFile
		err = json.Unmarshal(payload, &m)
		return m, err
	case "file_request":
		var m FileRequest
		err = json.Unmarshal(payload, &m)
		return m, err
	case "cursor_update":
		var m CursorUpdate
		err = json.Unmarshal(payload, &m)
		return m, err
	case "presence_update":
		var m PresenceUpdate
		err = json.Unmarshal(payload, &m)
		return m, err
	case "chat_message":
		var m ClientChatMessage
		err = json.Unmarshal(payload, &m)
		return m, err
	case "chat_history_request":
		var m ChatHistoryRequest
		err = json.Unmarshal(payload, &m)
		return m, err
	case "voice_join":
		var m VoiceJoin
		err = json.Unmarshal(payload, &m)
		return m, err
	case "voice_leave":
		var m VoiceLeave
		err = json.Unmarshal(payload, &m)
		return m, err
	case "ping":
		var m Ping
		err = json.Unmarshal(payload, &m)
		return m, err
	default:
		return nil, &InvalidFormatError{Reason: "unknown client variant " + variant}
	}
}

func decodeServerVariantJSON(variant string, payload json.RawMessage) (ServerMessage, error) {
	var err error
	switch variant {
	case "welcome":
		var m Welcome
		err = json.Unmarshal(payload, &m)
		return m, err
	case "error":
		var m Error
		err = json.Unmarshal(payload, &m)
		return m, err
	case "goodbye":
		var m ServerGoodbye
		err = json.Unmarshal(payload, &m)
		return m, err
	case "project_joined":
		var m ProjectJoined
		err = json.Unmarshal(payload, &m)
		return m, err
	case "peer_joined":
		var m PeerJoined
		err = json.Unmarshal(payload, &m)
		return m, err
	case "project_left":
		var m ProjectLeft
		err = json.Unmarshal(payload, &m)
		return m, err
	case "peer_left":
		var m PeerLeft
		err = json.Unmarshal(payload, &m)
		return m, err
	case "sync_message":
		var m ServerSyncMessage
		err = json.Unmarshal(payload, &m)
		return m, err
	case "sync_complete":
		var m SyncComplete
		err = json.Unmarshal(payload, &m)
		return m, err
	case "file_content":
		var m FileContent
		err = json.Unmarshal(payload, &m)
		return m, err
	case "file_not_found":
		var m FileNotFound
		err = json.Unmarshal(payload, &m)
		return m, err
	case "cursor_broadcast":
		var m CursorBroadcast
		err = json.Unmarshal(payload, &m)
		return m, err
	case "presence_broadcast":
		var m PresenceBroadcast
		err = json.Unmarshal(payload, &m)
		return m, err
	case "chat_broadcast":
		var m ChatBroadcast
		err = json.Unmarshal(payload, &m)
		return m, err
	case "chat_history":
		var m ChatHistory
		err = json.Unmarshal(payload, &m)
		return m, err
	case "voice_token":
		var m VoiceToken
		err = json.Unmarshal(payload, &m)
		return m, err
	case "pong":
		var m Pong
		err = json.Unmarshal(payload, &m)
		return m, err
	case "stats":
		var m Stats
		err = json.Unmarshal(payload, &m)
		return m, err
	default:
		return nil, &InvalidFormatError{Reason: "unknown server variant " + variant}
	}
}
