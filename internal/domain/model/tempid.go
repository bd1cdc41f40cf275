package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids generated locally before the backend assigns one.
const TempIDPrefix = "tmp-"

// NewTempID returns a placeholder id: prefix, base36 unix millis and a random suffix.
func NewTempID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return TempIDPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "-" + suffix
}

// IsTempID reports whether id is a local placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
