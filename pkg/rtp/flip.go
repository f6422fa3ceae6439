package rtp

// flipTable переставляет биты в байте: оборудование B-канала передает
// отсчеты младшим битом вперед.
var flipTable [256]byte

func init() {
	for i := 0; i < 256; i++ {
		var r byte
		for bit := 0; bit < 8; bit++ {
			if i&(1<<bit) != 0 {
				r |= 0x80 >> bit
			}
		}
		flipTable[i] = r
	}
}

// Flip возвращает байт с обратным порядком битов
func Flip(b byte) byte {
	return flipTable[b]
}

// FlipBytes переставляет биты каждого байта src в dst; dst не короче src
func FlipBytes(dst, src []byte) {
	for i, b := range src {
		dst[i] = flipTable[b]
	}
}
