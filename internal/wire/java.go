package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// ErrFraming marks an invalid or oversized packet — spec.md §4.1 says the
// connection must be closed silently, never answered.
var ErrFraming = errors.New("wire: invalid packet framing")

// NextState identifies what the client asked for in the Handshake packet.
type NextState int32

const (
	NextStateStatus NextState = 1
	NextStateLogin  NextState = 2
)

// Handshake is the client→server Handshake packet (id 0x00, handshaking state).
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

// LoginStart is the client→server Login Start packet (id 0x00, login state).
// The modern protocol also carries a UUID; this watcher only needs the name.
type LoginStart struct {
	Username string
}

// ReadPacket reads one length-prefixed packet from r, returning its id and a
// reader positioned just after the id. A length of zero, a negative length,
// or a length over MaxPacketLength is a framing error.
func ReadPacket(r *bufio.Reader) (id int32, payload *bufio.Reader, err error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return 0, nil, err
	}
	if length <= 0 || length > MaxPacketLength {
		return 0, nil, ErrFraming
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	body := bufio.NewReader(bytes.NewReader(buf))
	id, err = ReadVarInt(body)
	if err != nil {
		return 0, nil, err
	}
	return id, body, nil
}

// BuildPacket frames payload behind a VarInt packet id and an outer VarInt
// length, matching the `length | packet_id | payload` framing of §4.1.
func BuildPacket(id int32, payload []byte) []byte {
	inner := append(WriteVarInt(id), payload...)
	return append(WriteVarInt(int32(len(inner))), inner...)
}

// ParseHandshake decodes the Handshake payload (protocol_version, server_address,
// server_port, next_state).
func ParseHandshake(r *bufio.Reader) (Handshake, error) {
	proto, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, err
	}
	addr, err := ReadString(r)
	if err != nil {
		return Handshake{}, err
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return Handshake{}, err
	}
	port := binary.BigEndian.Uint16(portBuf[:])
	next, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, err
	}
	if next != int32(NextStateStatus) && next != int32(NextStateLogin) {
		return Handshake{}, ErrFraming
	}
	return Handshake{
		ProtocolVersion: proto,
		ServerAddress:   addr,
		ServerPort:      port,
		NextState:       NextState(next),
	}, nil
}

// ParseLoginStart decodes a Login Start payload.
func ParseLoginStart(r *bufio.Reader) (LoginStart, error) {
	name, err := ReadString(r)
	if err != nil {
		return LoginStart{}, err
	}
	return LoginStart{Username: name}, nil
}

// statusVersion / statusPlayers / statusResponse mirror the JSON shape the
// modern Server List Ping expects.
type statusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type statusPlayers struct {
	Max    int           `json:"max"`
	Online int           `json:"online"`
	Sample []interface{} `json:"sample"`
}

type statusDescription struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Version     statusVersion     `json:"version"`
	Players     statusPlayers     `json:"players"`
	Description statusDescription `json:"description"`
	Favicon     string            `json:"favicon,omitempty"`
}

// BuildStatusResponse builds the Status Response packet (0x00, status state).
func BuildStatusResponse(motd, versionName string, protocol, maxPlayers int, favicon string) []byte {
	resp := statusResponse{
		Version:     statusVersion{Name: versionName, Protocol: protocol},
		Players:     statusPlayers{Max: maxPlayers, Online: 0, Sample: []interface{}{}},
		Description: statusDescription{Text: motd},
		Favicon:     favicon,
	}
	body, _ := json.Marshal(resp)
	return BuildPacket(0x00, WriteString(string(body)))
}

// BuildPong echoes the 8-byte payload of a Ping packet (0x01, status state)
// back as Pong.
func BuildPong(payload []byte) []byte {
	return BuildPacket(0x01, payload)
}

// chatComponent is the minimal JSON chat component the Disconnect packet
// carries.
type chatComponent struct {
	Text string `json:"text"`
}

// BuildDisconnect builds the login-state Disconnect (kick) packet (0x00).
func BuildDisconnect(message string) []byte {
	body, _ := json.Marshal(chatComponent{Text: message})
	return BuildPacket(0x00, WriteString(string(body)))
}
