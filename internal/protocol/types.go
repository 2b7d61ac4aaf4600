package protocol

import "fmt"

// Opcode is the first byte of a request packet.
type Opcode uint8

const (
	FinalBit uint8 = 0x80

	OpConnect    Opcode = 0x80
	OpDisconnect Opcode = 0x81
	OpPut        Opcode = 0x02
	OpPutFinal   Opcode = 0x82
	OpGet        Opcode = 0x03
	OpGetFinal   Opcode = 0x83
	OpSetPath    Opcode = 0x85
	OpSession    Opcode = 0x87
	OpAbort      Opcode = 0xFF
)

// Final reports whether the final bit is set.
func (o Opcode) Final() bool {
	return uint8(o)&FinalBit != 0
}

// Base strips the final bit.
func (o Opcode) Base() Opcode {
	if o == OpAbort {
		return o
	}
	return Opcode(uint8(o) &^ FinalBit)
}

// WithFinal returns the opcode with the final bit set or cleared.
func (o Opcode) WithFinal(final bool) Opcode {
	if o == OpAbort {
		return o
	}
	if final {
		return Opcode(uint8(o) | FinalBit)
	}
	return o.Base()
}

func (o Opcode) String() string {
	switch o {
	case OpConnect:
		return "CONNECT"
	case OpDisconnect:
		return "DISCONNECT"
	case OpPut:
		return "PUT"
	case OpPutFinal:
		return "PUT(final)"
	case OpGet:
		return "GET"
	case OpGetFinal:
		return "GET(final)"
	case OpSetPath:
		return "SETPATH"
	case OpSession:
		return "SESSION"
	case OpAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("opcode(0x%02X)", uint8(o))
	}
}

// ResponseCode is the first byte of a response packet.
type ResponseCode uint8

const (
	RespContinue ResponseCode = 0x90

	RespSuccess          ResponseCode = 0xA0
	RespCreated          ResponseCode = 0xA1
	RespAccepted         ResponseCode = 0xA2
	RespNonAuthoritative ResponseCode = 0xA3
	RespNoContent        ResponseCode = 0xA4
	RespResetContent     ResponseCode = 0xA5
	RespPartialContent   ResponseCode = 0xA6

	RespMultipleChoices  ResponseCode = 0xB0
	RespMovedPermanently ResponseCode = 0xB1
	RespMovedTemporarily ResponseCode = 0xB2
	RespSeeOther         ResponseCode = 0xB3
	RespNotModified      ResponseCode = 0xB4
	RespUseProxy         ResponseCode = 0xB5

	RespBadRequest           ResponseCode = 0xC0
	RespUnauthorized         ResponseCode = 0xC1
	RespPaymentRequired      ResponseCode = 0xC2
	RespForbidden            ResponseCode = 0xC3
	RespNotFound             ResponseCode = 0xC4
	RespMethodNotAllowed     ResponseCode = 0xC5
	RespNotAcceptable        ResponseCode = 0xC6
	RespProxyAuthRequired    ResponseCode = 0xC7
	RespRequestTimeout       ResponseCode = 0xC8
	RespConflict             ResponseCode = 0xC9
	RespGone                 ResponseCode = 0xCA
	RespLengthRequired       ResponseCode = 0xCB
	RespPreconditionFailed   ResponseCode = 0xCC
	RespEntityTooLarge       ResponseCode = 0xCD
	RespURITooLarge          ResponseCode = 0xCE
	RespUnsupportedMediaType ResponseCode = 0xCF

	RespInternalError       ResponseCode = 0xD0
	RespNotImplemented      ResponseCode = 0xD1
	RespBadGateway          ResponseCode = 0xD2
	RespServiceUnavailable  ResponseCode = 0xD3
	RespGatewayTimeout      ResponseCode = 0xD4
	RespVersionNotSupported ResponseCode = 0xD5

	RespDatabaseFull   ResponseCode = 0xE0
	RespDatabaseLocked ResponseCode = 0xE1
)

// Final sets the final bit; responses always carry it on the wire.
func (c ResponseCode) Final() ResponseCode {
	return ResponseCode(uint8(c) | FinalBit)
}

// Success reports a 2xx-equivalent status.
func (c ResponseCode) Success() bool {
	return c.Final() >= RespSuccess && c.Final() <= RespPartialContent
}

// Continue reports the CONTINUE status.
func (c ResponseCode) Continue() bool {
	return c.Final() == RespContinue
}

var responseNames = map[ResponseCode]string{
	RespContinue:             "CONTINUE",
	RespSuccess:              "SUCCESS",
	RespCreated:              "CREATED",
	RespAccepted:             "ACCEPTED",
	RespNonAuthoritative:     "NON_AUTHORITATIVE",
	RespNoContent:            "NO_CONTENT",
	RespResetContent:         "RESET_CONTENT",
	RespPartialContent:       "PARTIAL_CONTENT",
	RespMultipleChoices:      "MULTIPLE_CHOICES",
	RespMovedPermanently:     "MOVED_PERMANENTLY",
	RespMovedTemporarily:     "MOVED_TEMPORARILY",
	RespSeeOther:             "SEE_OTHER",
	RespNotModified:          "NOT_MODIFIED",
	RespUseProxy:             "USE_PROXY",
	RespBadRequest:           "BAD_REQUEST",
	RespUnauthorized:         "UNAUTHORIZED",
	RespPaymentRequired:      "PAYMENT_REQUIRED",
	RespForbidden:            "FORBIDDEN",
	RespNotFound:             "NOT_FOUND",
	RespMethodNotAllowed:     "METHOD_NOT_ALLOWED",
	RespNotAcceptable:        "NOT_ACCEPTABLE",
	RespProxyAuthRequired:    "PROXY_AUTH_REQUIRED",
	RespRequestTimeout:       "REQUEST_TIMEOUT",
	RespConflict:             "CONFLICT",
	RespGone:                 "GONE",
	RespLengthRequired:       "LENGTH_REQUIRED",
	RespPreconditionFailed:   "PRECONDITION_FAILED",
	RespEntityTooLarge:       "ENTITY_TOO_LARGE",
	RespURITooLarge:          "URI_TOO_LARGE",
	RespUnsupportedMediaType: "UNSUPPORTED_MEDIA_TYPE",
	RespInternalError:        "INTERNAL_ERROR",
	RespNotImplemented:       "NOT_IMPLEMENTED",
	RespBadGateway:           "BAD_GATEWAY",
	RespServiceUnavailable:   "SERVICE_UNAVAILABLE",
	RespGatewayTimeout:       "GATEWAY_TIMEOUT",
	RespVersionNotSupported:  "VERSION_NOT_SUPPORTED",
	RespDatabaseFull:         "DATABASE_FULL",
	RespDatabaseLocked:       "DATABASE_LOCKED",
}

func (c ResponseCode) String() string {
	if name, ok := responseNames[c.Final()]; ok {
		return name
	}
	return fmt.Sprintf("response(0x%02X)", uint8(c))
}

// Packet size bounds shared by every transport.
const (
	PacketHeaderSize = 3
	MinPacketSize    = 255
	MaxPacketSize    = 65535
)
