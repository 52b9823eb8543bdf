package r2mig

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// LegacyPrefix is the flat layout every receipt was written under before
	// per-user directories existed.
	LegacyPrefix = "receipts/"

	// UserPrefix is the root of the per-user layout.
	UserPrefix = "users/"
)

// PathFormatError reports an object key or user ID that cannot be mapped to
// the per-user layout.
type PathFormatError struct {
	Path   string
	UserID int64
	Reason string
}

func (e *PathFormatError) Error() string {
	return fmt.Sprintf("invalid receipt path %q (user %d): %s", e.Path, e.UserID, e.Reason)
}

// ConvertPath maps a legacy key to its per-user location:
//
//	receipts/42/a.png, 7  ->  users/7/receipts/42/a.png
//
// The mapping is a pure function of its inputs.
func ConvertPath(oldPath string, userID int64) (string, error) {
	if userID <= 0 {
		return "", &PathFormatError{Path: oldPath, UserID: userID, Reason: "user id must be positive"}
	}
	if !IsLegacyKey(oldPath) {
		return "", &PathFormatError{Path: oldPath, UserID: userID, Reason: "expected " + LegacyPrefix + " prefix"}
	}
	return UserPrefix + strconv.FormatInt(userID, 10) + "/" + oldPath, nil
}

// IsLegacyKey reports whether key lives under receipts/ and names something
// below it.
func IsLegacyKey(key string) bool {
	return strings.HasPrefix(key, LegacyPrefix) && len(key) > len(LegacyPrefix)
}

// IsUserKey reports whether key has the users/{id}/receipts/... shape.
func IsUserKey(key string) bool {
	rest, ok := strings.CutPrefix(key, UserPrefix)
	if !ok {
		return false
	}
	id, tail, ok := strings.Cut(rest, "/")
	if !ok || !isDigits(id) {
		return false
	}
	return IsLegacyKey(tail)
}

// SplitReceiptURL splits a stored receipt_url into the part before the object
// key and the key itself. The key is either a legacy key or a per-user key;
// ok is false when the URL contains neither.
func SplitReceiptURL(u string) (prefix, key string, ok bool) {
	for i := 0; i < len(u); {
		j := strings.Index(u[i:], LegacyPrefix)
		if j < 0 {
			return "", "", false
		}
		idx := i + j
		if idx == 0 || u[idx-1] == '/' {
			if !IsLegacyKey(u[idx:]) {
				return "", "", false
			}
			start := idx
			if s, found := userDirStart(u, idx); found {
				start = s
			}
			return u[:start], u[start:], true
		}
		i = idx + 1
	}
	return "", "", false
}

// userDirStart looks for "users/{digits}/" immediately before idx and
// returns where it begins.
func userDirStart(u string, idx int) (int, bool) {
	if idx == 0 {
		return 0, false
	}
	head := u[:idx-1]
	slash := strings.LastIndexByte(head, '/')
	if !isDigits(head[slash+1:]) {
		return 0, false
	}
	if !strings.HasSuffix(head[:slash+1], UserPrefix) {
		return 0, false
	}
	start := slash + 1 - len(UserPrefix)
	if start > 0 && u[start-1] != '/' {
		return 0, false
	}
	return start, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
