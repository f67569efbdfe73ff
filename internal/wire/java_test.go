package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func TestBuildAndReadPacket(t *testing.T) {
	payload := []byte("hello")
	packet := BuildPacket(0x00, payload)

	r := bufio.NewReader(bytes.NewReader(packet))
	id, body, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if id != 0x00 {
		t.Fatalf("id = %d, want 0", id)
	}
	rest := make([]byte, body.Buffered())
	if _, err := body.Read(rest); err != nil {
		t.Fatalf("reading remaining body: %v", err)
	}
	if !bytes.Equal(rest, payload) {
		t.Fatalf("body = %q, want %q", rest, payload)
	}
}

func TestReadPacketOversizedLength(t *testing.T) {
	buf := WriteVarInt(MaxPacketLength + 1)
	_, _, err := ReadPacket(bufio.NewReader(bytes.NewReader(buf)))
	if err != ErrFraming {
		t.Fatalf("got %v, want ErrFraming", err)
	}
}

func TestReadPacketZeroLength(t *testing.T) {
	buf := WriteVarInt(0)
	_, _, err := ReadPacket(bufio.NewReader(bytes.NewReader(buf)))
	if err != ErrFraming {
		t.Fatalf("got %v, want ErrFraming", err)
	}
}

func TestParseHandshakeStatus(t *testing.T) {
	var payload bytes.Buffer
	payload.Write(WriteVarInt(758))
	payload.Write(WriteString("play.example.com"))
	payload.Write([]byte{0x63, 0xdd}) // 25565 big-endian
	payload.Write(WriteVarInt(int32(NextStateStatus)))

	hs, err := ParseHandshake(bufio.NewReader(bytes.NewReader(payload.Bytes())))
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	if hs.ProtocolVersion != 758 || hs.ServerAddress != "play.example.com" ||
		hs.ServerPort != 25565 || hs.NextState != NextStateStatus {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
}

func TestParseHandshakeInvalidNextState(t *testing.T) {
	var payload bytes.Buffer
	payload.Write(WriteVarInt(758))
	payload.Write(WriteString("host"))
	payload.Write([]byte{0x00, 0x00})
	payload.Write(WriteVarInt(99))

	_, err := ParseHandshake(bufio.NewReader(bytes.NewReader(payload.Bytes())))
	if err != ErrFraming {
		t.Fatalf("got %v, want ErrFraming", err)
	}
}

func TestParseLoginStart(t *testing.T) {
	payload := WriteString("Steve")
	ls, err := ParseLoginStart(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		t.Fatalf("ParseLoginStart: %v", err)
	}
	if ls.Username != "Steve" {
		t.Fatalf("username = %q", ls.Username)
	}
}

func TestBuildStatusResponseShape(t *testing.T) {
	packet := BuildStatusResponse("A hibernating server", "1.20.4", 765, 20, "")

	r := bufio.NewReader(bytes.NewReader(packet))
	id, body, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if id != 0x00 {
		t.Fatalf("id = %d, want 0", id)
	}
	jsonStr, err := ReadString(body)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}

	var resp statusResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		t.Fatalf("unmarshal status response: %v", err)
	}
	if resp.Version.Name != "1.20.4" || resp.Version.Protocol != 765 {
		t.Fatalf("version = %+v", resp.Version)
	}
	if resp.Players.Online != 0 || resp.Players.Max != 20 {
		t.Fatalf("players = %+v", resp.Players)
	}
	if resp.Description.Text != "A hibernating server" {
		t.Fatalf("description = %+v", resp.Description)
	}
	if resp.Favicon != "" {
		t.Fatalf("favicon = %q, want omitted", resp.Favicon)
	}
}

func TestBuildStatusResponseWithFavicon(t *testing.T) {
	packet := BuildStatusResponse("motd", "1.20.4", 765, 20, "data:image/png;base64,AA==")
	_, body, err := ReadPacket(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	jsonStr, err := ReadString(body)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var resp statusResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Favicon != "data:image/png;base64,AA==" {
		t.Fatalf("favicon = %q", resp.Favicon)
	}
}

func TestBuildPongEchoesPayload(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 0, 0, 0, 42}
	packet := BuildPong(payload)
	id, body, err := ReadPacket(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if id != 0x01 {
		t.Fatalf("id = %d, want 1", id)
	}
	rest := make([]byte, body.Buffered())
	body.Read(rest)
	if !bytes.Equal(rest, payload) {
		t.Fatalf("echoed payload = %v, want %v", rest, payload)
	}
}

func TestBuildDisconnectJSON(t *testing.T) {
	packet := BuildDisconnect("Server is starting, try again shortly")
	_, body, err := ReadPacket(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	jsonStr, err := ReadString(body)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var comp chatComponent
	if err := json.Unmarshal([]byte(jsonStr), &comp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if comp.Text != "Server is starting, try again shortly" {
		t.Fatalf("text = %q", comp.Text)
	}
}
