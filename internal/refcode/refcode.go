// Package refcode generates and parses the payment reference codes embedded
// in bank-transfer memos.
package refcode

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
)

const (
	coursePrefix = "COURSE"
	toolPrefix   = "TOOL"

	suffixLen = 4
	// No vowels or easily confused characters; the suffix is display-only
	// and never parsed back.
	suffixAlphabet = "23456789BCDFGHJKMNPQRSTVWXZ"
	// The first suffix character must not be a digit, or it would extend
	// the order id when the matcher reads the memo back.
	suffixLetters = "BCDFGHJKMNPQRSTVWXZ"
)

var (
	courseRe = regexp.MustCompile(`(?i)` + coursePrefix + `(\d+)`)
	toolRe   = regexp.MustCompile(`(?i)` + toolPrefix + `(\d+)`)
)

// Generate produces the reference code for an order: kind prefix, decimal
// order id, then a short random alphanumeric suffix. Only prefix and id are
// significant when parsing; the suffix reduces guessability of memo text.
func Generate(kind model.OrderKind, id int64) string {
	prefix := toolPrefix
	if kind == model.KindCourseEnrollment {
		prefix = coursePrefix
	}
	return fmt.Sprintf("%s%d%s", prefix, id, randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, suffixLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// fixed suffix rather than panic, the suffix carries no meaning.
		return "XXXX"
	}
	buf[0] = suffixLetters[int(buf[0])%len(suffixLetters)]
	for i := 1; i < len(buf); i++ {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}

// Match scans a free-text memo for an order reference. The course prefix is
// tried first, then the tool prefix; within each, only the first occurrence
// counts. Matching is case-insensitive. ok is false when no prefix+digits
// sequence is found or the digits do not form a positive integer.
func Match(memo string) (kind model.OrderKind, id int64, ok bool) {
	if m := courseRe.FindStringSubmatch(memo); m != nil {
		if id, ok = parseID(m[1]); ok {
			return model.KindCourseEnrollment, id, true
		}
		return "", 0, false
	}
	if m := toolRe.FindStringSubmatch(memo); m != nil {
		if id, ok = parseID(m[1]); ok {
			return model.KindToolPurchase, id, true
		}
	}
	return "", 0, false
}

func parseID(digits string) (int64, bool) {
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
