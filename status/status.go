// Package status holds the subset of HTTP status codes the server core
// itself ever has to name directly: the synthetic error responses
// described in spec.md §7 (400, 403, 500, 503) plus the handful of codes
// needed to render an arbitrary application-chosen status line.
package status

// Code is a bare HTTP status code, as sent on the wire.
type Code uint16

const (
	SwitchingProtocols Code = 101

	OK Code = 200

	Found Code = 302

	BadRequest          Code = 400
	Forbidden           Code = 403
	NotFound            Code = 404
	RequestTimeout      Code = 408
	RequestURITooLong   Code = 414
	HeaderFieldsTooLarge Code = 431

	InternalServerError     Code = 500
	NotImplemented          Code = 501
	ServiceUnavailable      Code = 503
	HTTPVersionNotSupported Code = 505
)

// reasons only covers well-known codes; anything else the application
// sends through http.response.start still gets a generic phrase, per
// spec.md §4.2 ("optional status text... usually ignored by clients").
var reasons = map[Code]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	426: "Upgrade Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// Text returns the reason phrase for code, or a generic one if code is
// outside the well-known table — valid per spec.md, which only bounds
// the status to the 100-599 range and leaves the phrase to the server.
func Text(code Code) string {
	if reason, ok := reasons[code]; ok {
		return reason
	}

	switch {
	case code >= 100 && code < 200:
		return "Informational"
	case code >= 200 && code < 300:
		return "Success"
	case code >= 300 && code < 400:
		return "Redirection"
	case code >= 400 && code < 500:
		return "Client Error"
	case code >= 500 && code < 600:
		return "Server Error"
	default:
		return "Unknown Status Code"
	}
}

// Valid reports whether code falls within the range the ASGI contract
// permits an application to set (spec.md §4.2: "status (int in
// 100-599)").
func Valid(code int) bool {
	return code >= 100 && code <= 599
}
