package cause

import (
	"fmt"
	"strconv"
	"strings"
)

// ReasonProtocol протокол в заголовке Reason
const ReasonProtocol = "Q.850"

// ReasonHeader формирует значение заголовка Reason для причины.
// Для кодов вне 1..127 возвращает пустую строку.
func ReasonHeader(c Code) string {
	if !c.Valid() {
		return ""
	}
	return fmt.Sprintf("%s;cause=%d;text=%q", ReasonProtocol, int(c), c.Text())
}

// ParseReason извлекает причину из значения заголовка Reason.
// Заголовки других протоколов и некорректные значения дают ok == false.
func ParseReason(value string) (Code, bool) {
	parts := strings.Split(value, ";")
	if len(parts) < 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), ReasonProtocol) {
		return 0, false
	}
	for _, p := range parts[1:] {
		name, val, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "cause") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		c := Code(n)
		if !c.Valid() {
			return 0, false
		}
		return c, true
	}
	return 0, false
}
