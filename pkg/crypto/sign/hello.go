package sign

import (
    "encoding/base64"
    "strconv"
    "strings"
)

// HelloTranscript builds the canonical transcript signed by a hello frame.
// Format:
//   ttsock:hello|v=1|role=<role>|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|peer=<b64url>|name=<nodeName>
// peer carries the nonce of the hello being answered and is empty for the
// initiating side.
func HelloTranscript(role, alg string, pub, nonce, peerNonce []byte, tsUnixMS int64, nodeName string) []byte {
    b64 := base64.RawURLEncoding
    var sb strings.Builder
    sb.Grow(96 + len(nodeName))
    sb.WriteString("ttsock:hello|v=1|role=")
    sb.WriteString(role)
    sb.WriteString("|alg=")
    sb.WriteString(strings.ToLower(strings.TrimSpace(alg)))
    sb.WriteString("|ts=")
    sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
    sb.WriteString("|pub=")
    sb.WriteString(b64.EncodeToString(pub))
    sb.WriteString("|nonce=")
    sb.WriteString(b64.EncodeToString(nonce))
    sb.WriteString("|peer=")
    sb.WriteString(b64.EncodeToString(peerNonce))
    sb.WriteString("|name=")
    sb.WriteString(nodeName)
    return []byte(sb.String())
}
