package rtp

import (
	"github.com/pion/randutil"
	"github.com/pion/rtp"
)

// Framer собирает исходящие кадры одной медиасессии.
// Не потокобезопасен: владелец сериализует вызовы.
type Framer struct {
	ssrc      uint32
	sequence  uint16
	timestamp uint32
	seeded    bool
	rnd       randutil.MathRandomGenerator
}

// NewFramer создает кадратор; счетчики засеваются при первой отправке
func NewFramer() *Framer {
	return &Framer{rnd: randutil.NewMathRandomGenerator()}
}

// Reset заставляет засеять счетчики заново при следующей отправке
func (f *Framer) Reset() {
	f.seeded = false
}

// Sequence возвращает номер последнего собранного кадра
func (f *Framer) Sequence() uint16 {
	return f.sequence
}

// SSRC возвращает идентификатор источника
func (f *Framer) SSRC() uint32 {
	return f.ssrc
}

// frameDuration возвращает длительность кадра в отсчетах
func frameDuration(pt uint8, payload []byte) (uint32, error) {
	switch pt {
	case PayloadTypeGSM:
		if len(payload) != GSMFrameSize {
			return 0, newFrameError(ErrorCodeFrameBadSize, pt, "кадр GSM должен быть %d байт, получено %d", GSMFrameSize, len(payload))
		}
		return FrameSamples, nil
	case PayloadTypeGSMEFR:
		if len(payload) != EFRFrameSize {
			return 0, newFrameError(ErrorCodeFrameBadSize, pt, "кадр EFR должен быть %d байт, получено %d", EFRFrameSize, len(payload))
		}
		return FrameSamples, nil
	case PayloadTypePCMA, PayloadTypePCMU:
		return uint32(len(payload)), nil
	default:
		return 0, newFrameError(ErrorCodeFrameUnsupportedPayload, pt, "неподдерживаемый тип нагрузки %d", pt)
	}
}

// Encode собирает кадр: заголовок 12 байт и нагрузка.
// Номер последовательности увеличивается на 1, метка времени на длительность кадра.
func (f *Framer) Encode(pt uint8, payload []byte) ([]byte, error) {
	duration, err := frameDuration(pt, payload)
	if err != nil {
		return nil, err
	}

	if !f.seeded {
		f.ssrc = f.rnd.Uint32()
		f.sequence = uint16(f.rnd.Uint32())
		f.timestamp = f.rnd.Uint32()
		f.seeded = true
	}
	f.sequence++
	f.timestamp += duration

	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        Version,
			PayloadType:    pt,
			SequenceNumber: f.sequence,
			Timestamp:      f.timestamp,
			SSRC:           f.ssrc,
		},
		Payload: payload,
	}
	return packet.Marshal()
}
