package conversation

import (
	"strings"

	"golang.org/x/text/transform"
	"mellium.im/xmpp/jid"
)

// RewriteLegacyName produces the XMPP node-part for a legacy conversation
// name. With escaping enabled it applies standard JID node escaping
// (XEP-0106); otherwise it replaces the final '@' with '%', which is both
// the MUC room-JID rewrite rule and the one-to-one fallback (§3, §4.4).
func RewriteLegacyName(name string, escaping bool) string {
	if escaping {
		out, _, err := transform.String(jid.Escape, name)
		if err != nil {
			return name
		}
		return out
	}
	return ReplaceLastAt(name)
}

// ReplaceLastAt replaces the final '@' in name with '%', preserving an
// otherwise valid JID node. For any name with at most one '@', the result
// contains no '@' left to rewrite, so applying the rule twice equals
// applying it once (testable property #7).
func ReplaceLastAt(name string) string {
	i := strings.LastIndexByte(name, '@')
	if i < 0 {
		return name
	}
	return name[:i] + "%" + name[i+1:]
}

// RosterLookup resolves a buddy's JID node by legacy name. It returns
// ok=false when there is no roster entry for that name.
type RosterLookup func(legacyName string) (node string, ok bool)

// ResolveSenderNode implements the one-to-one sender JID resolution order
// from §4.4 point 2: a roster buddy's JID takes priority, then the
// configured rewrite rule.
func ResolveSenderNode(legacyName string, lookup RosterLookup, jidEscaping bool) string {
	if lookup != nil {
		if node, ok := lookup(legacyName); ok {
			return node
		}
	}
	return RewriteLegacyName(legacyName, jidEscaping)
}
