package wire

type MessageType uint8

const (
	MessageTypeHello        MessageType = 1
	MessageTypeAddrRequest  MessageType = 2
	MessageTypeAddrList     MessageType = 3
	MessageTypeSyncRequest  MessageType = 4
	MessageTypeSyncSnapshot MessageType = 5
	MessageTypeClose        MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHello:
		return "HELLO"
	case MessageTypeAddrRequest:
		return "ADDR_REQUEST"
	case MessageTypeAddrList:
		return "ADDR_LIST"
	case MessageTypeSyncRequest:
		return "SYNC_REQUEST"
	case MessageTypeSyncSnapshot:
		return "SYNC_SNAPSHOT"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
