package rtp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerEncode(t *testing.T) {
	tests := []struct {
		name         string
		pt           uint8
		payload      []byte
		wantDuration uint32
		wantErr      error
	}{
		{"PCMA", PayloadTypePCMA, make([]byte, 160), 160, nil},
		{"PCMU короткий", PayloadTypePCMU, make([]byte, 80), 80, nil},
		{"GSM", PayloadTypeGSM, make([]byte, GSMFrameSize), FrameSamples, nil},
		{"EFR", PayloadTypeGSMEFR, make([]byte, EFRFrameSize), FrameSamples, nil},
		{"GSM неверного размера", PayloadTypeGSM, make([]byte, 32), 0, ErrFrameBadSize},
		{"EFR неверного размера", PayloadTypeGSMEFR, make([]byte, 33), 0, ErrFrameBadSize},
		{"AMR не поддерживается", PayloadTypeAMR, make([]byte, 20), 0, ErrFrameUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer()
			first, err := f.Encode(tt.pt, tt.payload)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "ожидалась %v, получена %v", tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			second, err := f.Encode(tt.pt, tt.payload)
			require.NoError(t, err)

			assert.Len(t, first, HeaderSize+len(tt.payload))

			var p1, p2 rtp.Packet
			require.NoError(t, p1.Unmarshal(first))
			require.NoError(t, p2.Unmarshal(second))
			assert.Equal(t, uint8(Version), p1.Version)
			assert.False(t, p1.Padding)
			assert.False(t, p1.Extension)
			assert.Equal(t, tt.pt, p1.PayloadType)
			assert.Equal(t, p1.SequenceNumber+1, p2.SequenceNumber)
			assert.Equal(t, p1.Timestamp+tt.wantDuration, p2.Timestamp)
			assert.Equal(t, p1.SSRC, p2.SSRC)
		})
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer()
	_, err := f.Encode(PayloadTypePCMA, make([]byte, 160))
	require.NoError(t, err)
	seq := f.Sequence()

	_, err = f.Encode(PayloadTypePCMA, make([]byte, 160))
	require.NoError(t, err)
	assert.Equal(t, seq+1, f.Sequence())

	f.Reset()
	assert.False(t, f.seeded)
	_, err = f.Encode(PayloadTypePCMA, make([]byte, 160))
	require.NoError(t, err)
	assert.True(t, f.seeded)
}

func TestEncodeDecodeEFRRoundTrip(t *testing.T) {
	payload := make([]byte, EFRFrameSize)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	frame, err := NewFramer().Encode(PayloadTypeGSMEFR, payload)
	require.NoError(t, err)

	got, err := Decode(frame, LawALaw)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func buildFrame(t *testing.T, h rtp.Header, payload []byte) []byte {
	t.Helper()
	h.Version = Version
	data, err := (&rtp.Packet{Header: h, Payload: payload}).Marshal()
	require.NoError(t, err)
	return data
}

func TestDecode(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x55}, 160)

	padded := buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, append(append([]byte{}, pcm...), 0, 0, 0, 4))
	padded[0] |= 0x20

	extHeader := rtp.Header{
		PayloadType:      PayloadTypePCMA,
		Extension:        true,
		ExtensionProfile: rtp.ExtensionProfileTwoByte,
	}
	require.NoError(t, extHeader.SetExtension(1, []byte{1, 2, 3, 4}))
	withExt := buildFrame(t, extHeader, pcm)

	withCSRC := buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA, CSRC: []uint32{1, 2}}, pcm)

	badVersion := buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, pcm)
	badVersion[0] = (badVersion[0] & 0x3f) | 0x40

	truncatedCSRC := buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, nil)
	truncatedCSRC[0] |= 0x0f

	tests := []struct {
		name    string
		data    []byte
		law     Law
		want    []byte
		wantErr error
	}{
		{"PCMA при a-law", buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, pcm), LawALaw, pcm, nil},
		{"PCMU при u-law", buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMU}, pcm), LawULaw, pcm, nil},
		{"выравнивание отрезается", padded, LawALaw, pcm, nil},
		{"расширение пропускается", withExt, LawALaw, pcm, nil},
		{"CSRC пропускаются", withCSRC, LawALaw, pcm, nil},
		{"GSM 33 байта", buildFrame(t, rtp.Header{PayloadType: PayloadTypeGSM}, make([]byte, 33)), LawALaw, make([]byte, 33), nil},
		{"пустая нагрузка", buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, nil), LawALaw, nil, nil},
		{"короче заголовка", make([]byte, 11), LawALaw, nil, ErrFrameTooShort},
		{"пустой кадр", nil, LawALaw, nil, ErrFrameTooShort},
		{"версия 1", badVersion, LawALaw, nil, ErrFrameBadVersion},
		{"CSRC за пределами кадра", truncatedCSRC, LawALaw, nil, ErrFrameTruncated},
		{"GSM 32 байта", buildFrame(t, rtp.Header{PayloadType: PayloadTypeGSM}, make([]byte, 32)), LawALaw, nil, ErrFrameBadSize},
		{"EFR 30 байт", buildFrame(t, rtp.Header{PayloadType: PayloadTypeGSMEFR}, make([]byte, 30)), LawALaw, nil, ErrFrameBadSize},
		{"PCMU при a-law", buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMU}, pcm), LawALaw, nil, ErrFrameWrongLaw},
		{"PCMA при u-law", buildFrame(t, rtp.Header{PayloadType: PayloadTypePCMA}, pcm), LawULaw, nil, ErrFrameWrongLaw},
		{"AMR", buildFrame(t, rtp.Header{PayloadType: PayloadTypeAMR}, pcm), LawALaw, nil, ErrFrameUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data, tt.law)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "ожидалась %v, получена %v", tt.wantErr, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlip(t *testing.T) {
	assert.Equal(t, byte(0x80), Flip(0x01))
	assert.Equal(t, byte(0x01), Flip(0x80))
	assert.Equal(t, byte(0x0f), Flip(0xf0))
	assert.Equal(t, byte(0xd5), Flip(0xab))
	for i := 0; i < 256; i++ {
		assert.Equal(t, byte(i), Flip(Flip(byte(i))), "двойная перестановка %#x", i)
	}

	src := []byte{0x01, 0x02, 0x03}
	dst := make([]byte, 3)
	FlipBytes(dst, src)
	assert.Equal(t, []byte{0x80, 0x40, 0xc0}, dst)
}

func TestLaw(t *testing.T) {
	l, err := ParseLaw("a")
	require.NoError(t, err)
	assert.Equal(t, LawALaw, l)
	assert.Equal(t, PayloadTypePCMA, l.PayloadType())
	assert.Equal(t, "PCMA", l.CodecName())

	l, err = ParseLaw("ulaw")
	require.NoError(t, err)
	assert.Equal(t, LawULaw, l)
	assert.Equal(t, PayloadTypePCMU, l.PayloadType())
	assert.Equal(t, "PCMU", l.CodecName())

	_, err = ParseLaw("g729")
	assert.Error(t, err)
}
