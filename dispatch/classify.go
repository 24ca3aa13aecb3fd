package dispatch

import "strings"

// Kind is the kind of an incoming request.
type Kind uint8

const (
	// KindInvalid is anything that is not an authorized request.
	KindInvalid Kind = iota

	// KindAddrReq asks for a receiving address.
	KindAddrReq

	// KindXpubReq asks for the extended public key.
	KindXpubReq

	// KindDescReq asks for the output descriptor.
	KindDescReq
)

const (
	addrReqPrefix = "AddrReq"
	xpubReqPrefix = "XpubReq"
	descReqPrefix = "DescReq"

	// AddrResPrefix starts the reply carrying an address.
	AddrResPrefix = "AddrRes:\n"

	// NotSupportedReply answers the requests the service does not serve.
	NotSupportedReply = "is not supported"
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAddrReq:
		return addrReqPrefix
	case KindXpubReq:
		return xpubReqPrefix
	case KindDescReq:
		return descReqPrefix
	default:
		return "Invalid"
	}
}

// Classify maps a decrypted plaintext to a request kind. A request is only
// recognized if it is exactly the request name followed by the secret.
func Classify(plaintext, secret string) Kind {
	for _, kind := range []Kind{KindAddrReq, KindXpubReq, KindDescReq} {
		if plaintext == kind.String()+secret {
			return kind
		}
	}

	return KindInvalid
}

// AddressReply returns the reply carrying addr.
func AddressReply(addr string) string {
	return AddrResPrefix + addr
}

// ParseAddressReply extracts the address from an AddrRes reply.
func ParseAddressReply(plaintext string) (string, bool) {
	if !strings.HasPrefix(plaintext, AddrResPrefix) {
		return "", false
	}

	addr := strings.TrimSpace(strings.TrimPrefix(plaintext, AddrResPrefix))

	return addr, addr != ""
}
