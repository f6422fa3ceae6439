package rtp

import "github.com/pion/rtp"

// Decode проверяет входящий кадр и возвращает его нагрузку.
//
// Проверяются длина, версия, CSRC, расширение заголовка и выравнивание, затем
// размер нагрузки для объявленного типа. Кадры G.711 принимаются только для
// закона law. Пустая нагрузка дает (nil, nil): кадр отбрасывается без ошибки.
func Decode(data []byte, law Law) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, newFrameError(ErrorCodeFrameTooShort, 0, "кадр слишком мал: %d байт", len(data))
	}
	if v := data[0] >> 6; v != Version {
		return nil, newFrameError(ErrorCodeFrameBadVersion, 0, "неподдерживаемая версия RTP: %d", v)
	}

	var packet rtp.Packet
	if err := packet.Unmarshal(data); err != nil {
		fe := newFrameError(ErrorCodeFrameTruncated, 0, "кадр обрезан")
		fe.Wrapped = err
		return nil, fe
	}

	pt := packet.PayloadType
	payload := packet.Payload
	switch pt {
	case PayloadTypeGSM:
		if len(payload) != GSMFrameSize {
			return nil, newFrameError(ErrorCodeFrameBadSize, pt, "кадр GSM должен быть %d байт, получено %d", GSMFrameSize, len(payload))
		}
	case PayloadTypeGSMEFR:
		if len(payload) != EFRFrameSize {
			return nil, newFrameError(ErrorCodeFrameBadSize, pt, "кадр EFR должен быть %d байт, получено %d", EFRFrameSize, len(payload))
		}
	case PayloadTypePCMA:
		if law != LawALaw {
			return nil, newFrameError(ErrorCodeFrameWrongLaw, pt, "получен PCMA при законе %s", law)
		}
	case PayloadTypePCMU:
		if law != LawULaw {
			return nil, newFrameError(ErrorCodeFrameWrongLaw, pt, "получен PCMU при законе %s", law)
		}
	default:
		return nil, newFrameError(ErrorCodeFrameUnsupportedPayload, pt, "неподдерживаемый тип нагрузки %d", pt)
	}

	if len(payload) == 0 {
		return nil, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
