// Package cases holds the registered conformance test cases. Each file
// covers one protocol area; All returns the cases in the order the report
// lists them.
package cases

import (
	"time"

	"example.com/ntp-pester/core/pester"
	"example.com/ntp-pester/net/ntp"
)

// All returns every registered test case.
func All() []pester.Case {
	return []pester.Case{
		pester.UDPCase("basic/test_responds_to_version_4", respondsToVersion4),
		pester.UDPCase("basic/test_ignores_version_5", ignoresVersion5),
		pester.UDPCase("extensions/test_unknown_extensions_are_ignored", unknownExtensionsAreIgnored),
		pester.UDPCase("extensions/test_unique_id_is_returned", uniqueIDIsReturned),
		pester.NTSCase("nts/happy", ntsHappy),
		pester.KECase("nts_ke/happy", keHappy),
		pester.KECase("nts_ke/error_on_unknown_next_protocol", keErrorOnUnknownNextProtocol),
		pester.KECase("nts_ke/ignore_unknown_extra_protocols", keIgnoreUnknownExtraProtocols),
		pester.KECase("nts_ke/error_on_unknown_aead", keErrorOnUnknownAead),
		pester.KECase("nts_ke/ignore_unknown_extra_aead", keIgnoreUnknownExtraAead),
		pester.KECase("nts_ke/empty_message_resolves_in_error", keEmptyMessageResolvesInError),
	}
}

func newClientPacket(version uint8) *ntp.Packet {
	pkt := new(ntp.Packet)
	pkt.SetVersion(version)
	pkt.SetMode(ntp.ModeClient)
	pkt.TransmitTime = ntp.Time64FromTime(time.Now())
	return pkt
}
