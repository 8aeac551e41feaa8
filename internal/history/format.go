package history

import (
	"strings"
	"time"
)

// History files are append-only markdown. Each turn opens with a marker line:
//
//	### User - 2026-08-30T14:02:11Z
//
// followed by a blank line, the content verbatim, and a blank line.
//
// Marker detection invariant: a line opens a turn only if it starts with the
// "### " prefix AND contains the " - " role/timestamp separator AND the role
// is known AND the timestamp parses as RFC3339. A model answer containing
// markdown sub-headings ("### Background") therefore stays inside its turn.
// A single cheap prefix check is not enough; it fragments one assistant
// answer into many spurious turns on reload.
const (
	markerPrefix  = "### "
	roleSeparator = " - "
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// markerRole maps the capitalized role token used on marker lines to the
// canonical role, and back.
var markerRole = map[string]string{
	"User":      RoleUser,
	"Assistant": RoleAssistant,
}

func roleToken(role string) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	}
	return ""
}

// parseMarker reports whether line is a turn boundary. Every clause of the
// compound rule must hold; anything less is content.
func parseMarker(line string) (role string, ts time.Time, ok bool) {
	if !strings.HasPrefix(line, markerPrefix) {
		return "", time.Time{}, false
	}
	rest := line[len(markerPrefix):]
	token, tsText, found := strings.Cut(rest, roleSeparator)
	if !found {
		return "", time.Time{}, false
	}
	role, known := markerRole[token]
	if !known {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, tsText)
	if err != nil {
		return "", time.Time{}, false
	}
	return role, ts, true
}

// serializeTurn renders one turn in the on-disk format. The trailing blank
// line separates it from the next marker; Load strips exactly what was added
// here so content round-trips byte for byte.
func serializeTurn(t Turn) string {
	var b strings.Builder
	b.WriteString(markerPrefix)
	b.WriteString(roleToken(t.Role))
	b.WriteString(roleSeparator)
	b.WriteString(t.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("\n\n")
	b.WriteString(t.Content)
	b.WriteString("\n\n")
	return b.String()
}
