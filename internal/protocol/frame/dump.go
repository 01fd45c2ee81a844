package frame

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/tlv"
)

// Dump renders a frame for trace logs. Malformed input is rendered as far as
// it can be decoded, followed by the error.
func Dump(b []byte) string {
	var sb strings.Builder
	if len(b) < MinControlFrame {
		fmt.Fprintf(&sb, "short frame len=%d bytes=%s", len(b), hex.EncodeToString(b))
		return sb.String()
	}
	svc := ServiceOf(b)
	fmt.Fprintf(&sb, "qmux marker=0x%02x len=%d flag=0x%02x svc=%s cid=%d",
		b[0], int(b[1])|int(b[2])<<8, b[3], svc, b[5])
	if _, err := DecodeQMUX(b); err != nil {
		fmt.Fprintf(&sb, " err=%v", err)
	}
	h, err := DecodeQMI(b, svc)
	if err != nil {
		fmt.Fprintf(&sb, " qmi err=%v", err)
		return sb.String()
	}
	fmt.Fprintf(&sb, " | qmi flags=0x%02x txid=%d msg=0x%04x(%s) len=%d",
		h.CtlFlags, h.TransactionID, h.MessageID, protocol.MessageName(svc, h.MessageID), h.Length)

	region, _ := TLVRegion(b)
	werr := tlv.Walk(region, func(v tlv.View) bool {
		fmt.Fprintf(&sb, " | tlv 0x%02x len=%d %s", v.ID, v.Length, hex.EncodeToString(v.Value))
		return true
	})
	if werr != nil {
		fmt.Fprintf(&sb, " | %v", werr)
	}
	return sb.String()
}
