package auth

import (
	"fmt"
	"strings"
)

// BasicChallenge builds a WWW-Authenticate value per RFC 7617.
func BasicChallenge(realm string) string {
	return fmt.Sprintf(`Basic realm="%s"`, escapeQuoted(realm))
}

// BearerChallenge builds a WWW-Authenticate value per RFC 6750:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm and either param are omitted when empty.
func BearerChallenge(realm, errCode, errDescription string) string {
	pieces := make([]string, 0, 3)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, escapeQuoted(realm)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, escapeQuoted(errCode)))
	}
	if errDescription != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errDescription)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

func escapeQuoted(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
