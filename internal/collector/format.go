package collector

const (
	LOGIN       byte = 0x01
	SCAN_REPORT byte = 0x02
	HEARTBEAT   byte = 0x03
	ACK         byte = 0x81
	NACK        byte = 0x82
)

func protocolName(p byte) string {
	switch p {
	case LOGIN:
		return "login"
	case SCAN_REPORT:
		return "scan_report"
	case HEARTBEAT:
		return "heartbeat"
	default:
		return "unknown"
	}
}

type LoginMessage struct {
	DeviceId string `json:"device_id" validate:"required,max=64,printascii"`
}

type EmitterReport struct {
	Id   string `json:"id" validate:"required,max=128"`
	Type string `json:"type" validate:"required,max=16"`
	ASU  int    `json:"asu"`
	Note string `json:"note,omitempty" validate:"max=256"`
}

type ScanReport struct {
	Emitters []EmitterReport `json:"emitters" validate:"required,min=1,max=512,dive"`
}

type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}
