package mailbox

import (
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

var headerUnfolder = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// DecodeSubject unfolds a possibly multi-line header value and decodes
// RFC 2047 encoded words (the transport encoding for non-ASCII subject
// characters such as umlauts). Undecodable input is returned as-is.
func DecodeSubject(raw string) string {
	unfolded := strings.TrimSpace(headerUnfolder.Replace(raw))

	decoder := mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := decoder.DecodeHeader(unfolded)
	if err != nil {
		return unfolded
	}
	return decoded
}
