package media_sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/callrouter/pkg/rtp"
)

var (
	// ErrMalformed описание не разбирается или в нем нет адреса медиа
	ErrMalformed = errors.New("некорректное описание сессии")
	// ErrUnsupportedCodec в описании нет кодека текущего закона на 8000 Гц
	ErrUnsupportedCodec = errors.New("кодек не поддерживается")
)

// connectionPrefix строка адреса, которую ищем в сыром тексте
const connectionPrefix = "c=IN IP4 "

// Offer результат согласования
type Offer struct {
	// Present false, если тело пустое: согласовывать нечего
	Present     bool
	Address     string
	Port        int
	PayloadType uint8
}

// StatusCode переводит ошибку согласования в код ответа: 400 для
// некорректного описания, 415 для неподдерживаемого кодека, 0 иначе.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedCodec):
		return 415
	case errors.Is(err, ErrMalformed):
		return 400
	default:
		return 0
	}
}

// Negotiate разбирает SDP собеседника и ищет аудиопоток с кодеком закона law.
//
// Адрес берется из строки c= потока, затем из уровня сессии, а если разборщик
// его не нашел, из сырого текста по префиксу "c=IN IP4 ". Без адреса описание
// считается некорректным, без подходящего кодека неподдерживаемым.
func Negotiate(body []byte, law rtp.Law) (Offer, error) {
	if len(body) == 0 {
		return Offer{}, nil
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return Offer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sessionAddr := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		sessionAddr = sd.ConnectionInformation.Address.Address
	}
	if sessionAddr == "" {
		sessionAddr = scanConnection(string(body))
	}
	if sessionAddr == "" && !mediaHasConnection(&sd) {
		return Offer{}, fmt.Errorf("%w: нет адреса медиа", ErrMalformed)
	}

	var (
		offer Offer
		found bool
	)
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			n, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			codec, err := sd.GetCodecForPayloadType(uint8(n))
			if err != nil {
				continue
			}
			if !strings.EqualFold(codec.Name, law.CodecName()) || codec.ClockRate != rtp.SampleRate {
				continue
			}
			offer.PayloadType = uint8(n)
			offer.Port = md.MediaName.Port.Value
			offer.Address = sessionAddr
			if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
				offer.Address = md.ConnectionInformation.Address.Address
			}
			found = true
			break
		}
		if found {
			break
		}
	}
	if !found {
		return Offer{}, fmt.Errorf("%w: нет %s/%d", ErrUnsupportedCodec, law.CodecName(), rtp.SampleRate)
	}
	if offer.Address == "" {
		return Offer{}, fmt.Errorf("%w: нет адреса медиа", ErrMalformed)
	}
	if offer.Port <= 0 {
		return Offer{}, fmt.Errorf("%w: нет порта медиа", ErrMalformed)
	}

	// адрес может нести TTL через косую черту
	if i := strings.IndexByte(offer.Address, '/'); i >= 0 {
		offer.Address = offer.Address[:i]
	}
	offer.Present = true
	return offer, nil
}

func mediaHasConnection(sd *sdp.SessionDescription) bool {
	for _, md := range sd.MediaDescriptions {
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			return true
		}
	}
	return false
}

// scanConnection ищет адрес в сыром тексте
func scanConnection(text string) string {
	i := strings.Index(text, connectionPrefix)
	if i < 0 {
		return ""
	}
	rest := text[i+len(connectionPrefix):]
	if end := strings.IndexAny(rest, "\r\n "); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
