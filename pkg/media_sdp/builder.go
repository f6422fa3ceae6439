// Package media_sdp формирует и разбирает описание медиасессии вызова.
package media_sdp

import (
	"fmt"
	"strings"

	"github.com/arzzra/callrouter/pkg/rtp"
)

// SessionName значение строки s=
const SessionName = "SIP Call"

// Origin имя в строке o=
const Origin = "LCR-Sofia-SIP"

// Build формирует SDP с одним аудиопотоком для закона law.
// Строки идут в фиксированном порядке v, o, s, c, t, m, a и завершаются CRLF.
func Build(localIP string, port int, law rtp.Law) []byte {
	pt := law.PayloadType()
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=%s 0 0 IN IP4 %s\r\n", Origin, localIP)
	fmt.Fprintf(&b, "s=%s\r\n", SessionName)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", localIP)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", port, pt)
	fmt.Fprintf(&b, "a=rtpmap:%d %s/%d\r\n", pt, law.CodecName(), rtp.SampleRate)
	return []byte(b.String())
}
