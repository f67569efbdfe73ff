package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// RakNet packet ids this watcher understands.
const (
	IDUnconnectedPing = 0x01
	IDUnconnectedPong = 0x1c
)

// OfflineMagic is the 16-byte RakNet "magic" every unconnected message carries.
var OfflineMagic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// ErrNotUnconnectedPing means the datagram isn't a ping we answer; callers
// must ignore it silently per spec.md §4.1.
var ErrNotUnconnectedPing = errors.New("wire: not an unconnected ping")

// UnconnectedPing is a parsed RakNet Unconnected Ping.
type UnconnectedPing struct {
	Time       int64
	ClientGUID int64
}

// ParseUnconnectedPing decodes `[0x01][time:i64][magic:16][guid:i64]`.
func ParseUnconnectedPing(data []byte) (UnconnectedPing, error) {
	// 1 (id) + 8 (time) + 16 (magic) + 8 (guid) = 33
	if len(data) < 33 || data[0] != IDUnconnectedPing {
		return UnconnectedPing{}, ErrNotUnconnectedPing
	}
	if !bytes.Equal(data[9:25], OfflineMagic[:]) {
		return UnconnectedPing{}, ErrNotUnconnectedPing
	}
	t := int64(binary.BigEndian.Uint64(data[1:9]))
	guid := int64(binary.BigEndian.Uint64(data[25:33]))
	return UnconnectedPing{Time: t, ClientGUID: guid}, nil
}

// PongInfo carries the fields needed to build the MOTD id_string tuple.
type PongInfo struct {
	MOTDLine1   string
	MOTDLine2   string
	Protocol    int
	VersionName string
	MaxPlayers  int
	ServerGUID  int64
	PortV4      int
	PortV6      int
}

// BuildUnconnectedPong encodes `[0x1c][time][server_guid][magic][len:u16][id_string]`
// per spec.md §4.1, echoing the client's ping timestamp.
func BuildUnconnectedPong(clientTime int64, info PongInfo) []byte {
	idString := strings.Join([]string{
		"MCPE",
		info.MOTDLine1,
		strconv.Itoa(info.Protocol),
		info.VersionName,
		"0", // online — the interposer never reports real players
		strconv.Itoa(info.MaxPlayers),
		strconv.FormatInt(info.ServerGUID, 10),
		info.MOTDLine2,
		"Survival",
		"1",
		strconv.Itoa(info.PortV4),
		strconv.Itoa(info.PortV6),
	}, ";") + ";" // trailing separator, matching the wire tuple in spec.md §4.1

	buf := make([]byte, 0, 1+8+8+16+2+len(idString))
	buf = append(buf, IDUnconnectedPong)
	buf = binary.BigEndian.AppendUint64(buf, uint64(clientTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.ServerGUID))
	buf = append(buf, OfflineMagic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(idString)))
	buf = append(buf, idString...)
	return buf
}
