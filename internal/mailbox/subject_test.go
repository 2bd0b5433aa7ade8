package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeSubject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain ascii passes through",
			raw:  "Umzugshelfer am 23.08.2025 ab 15:00 Uhr in 58452 Witten gesucht",
			want: "Umzugshelfer am 23.08.2025 ab 15:00 Uhr in 58452 Witten gesucht",
		},
		{
			name: "utf8 q-encoded umlauts",
			raw:  "=?utf-8?q?Umzugshelfer_in_D=C3=BCsseldorf_gesucht?=",
			want: "Umzugshelfer in Düsseldorf gesucht",
		},
		{
			name: "utf8 base64 encoded word",
			raw:  "=?utf-8?B?VW16dWdzaGVsZmVyIGluIE3DvG5jaGVuIGdlc3VjaHQ=?=",
			want: "Umzugshelfer in München gesucht",
		},
		{
			name: "iso-8859-1 encoded word",
			raw:  "=?iso-8859-1?q?D=FCsseldorf?=",
			want: "Düsseldorf",
		},
		{
			name: "folded header is unfolded",
			raw:  "Umzugshelfer am 23.08.2025\r\n ab 15:00 Uhr gesucht",
			want: "Umzugshelfer am 23.08.2025  ab 15:00 Uhr gesucht",
		},
		{
			name: "malformed encoded word returned as-is",
			raw:  "=?utf-8?q?broken",
			want: "=?utf-8?q?broken",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeSubject(tt.raw))
		})
	}
}
