package rtp

import "fmt"

// Типы нагрузки RTP, которые знает кодек маршрутизатора
const (
	PayloadTypePCMU    uint8 = 0
	PayloadTypeGSM     uint8 = 3
	PayloadTypePCMA    uint8 = 8
	PayloadTypeGSMHalf uint8 = 96
	PayloadTypeGSMEFR  uint8 = 97
	PayloadTypeAMR     uint8 = 98
)

const (
	// HeaderSize размер фиксированного заголовка RTP
	HeaderSize = 12
	// Version версия RTP
	Version = 2
	// GSMFrameSize размер кадра GSM full rate
	GSMFrameSize = 33
	// EFRFrameSize размер кадра GSM EFR
	EFRFrameSize = 31
	// FrameSamples длительность сжатого кадра и размер кадра с B-канала (20 мс при 8 кГц)
	FrameSamples = 160
	// SampleRate частота дискретизации G.711
	SampleRate = 8000
)

// Law закон компандирования, выбранный для всего процесса
type Law byte

const (
	LawALaw Law = 'a'
	LawULaw Law = 'u'
)

// ParseLaw разбирает закон из конфигурации: "a"/"alaw" или "u"/"ulaw"
func ParseLaw(s string) (Law, error) {
	switch s {
	case "a", "alaw", "a-law", "PCMA":
		return LawALaw, nil
	case "u", "ulaw", "u-law", "mulaw", "PCMU":
		return LawULaw, nil
	}
	return 0, fmt.Errorf("неизвестный закон компандирования: %q", s)
}

// PayloadType возвращает тип нагрузки RTP для закона
func (l Law) PayloadType() uint8 {
	if l == LawALaw {
		return PayloadTypePCMA
	}
	return PayloadTypePCMU
}

// CodecName возвращает имя кодека в SDP
func (l Law) CodecName() string {
	if l == LawALaw {
		return "PCMA"
	}
	return "PCMU"
}

func (l Law) String() string {
	if l == LawALaw {
		return "a-law"
	}
	return "u-law"
}
