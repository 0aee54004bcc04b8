package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const (
	// HeaderAuthorization carries the Hawk parameter set for the request.
	HeaderAuthorization = "Authorization"
	// SchemeHawk is the authorization scheme prefix expected on inbound requests.
	SchemeHawk = "Hawk"

	headerVersion  = "hawk.1.header"
	payloadVersion = "hawk.1.payload"
)

// SignatureContext is the per-request material extracted from the Hawk
// Authorization header together with the request attributes that feed the
// canonical string. It lives only for the duration of the authorization
// decision.
type SignatureContext struct {
	ConsumerID string
	Timestamp  int64
	Nonce      string
	Hash       string
	Ext        string
	MAC        string

	Method   string
	Resource string
	Host     string
	Port     string
}

// ParseRequest extracts the Hawk signature context from an inbound request.
// Missing or unparsable fields reject with MalformedRequest.
func ParseRequest(r *http.Request) (*SignatureContext, error) {
	header := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if header == "" {
		return nil, reject(ReasonMalformedRequest, "missing Authorization header")
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, SchemeHawk) {
		return nil, reject(ReasonMalformedRequest, "Authorization scheme is not Hawk")
	}
	params, err := parseHawkParams(rest)
	if err != nil {
		return nil, err
	}

	ctx := &SignatureContext{
		ConsumerID: params["id"],
		Nonce:      params["nonce"],
		Hash:       params["hash"],
		Ext:        params["ext"],
		MAC:        params["mac"],
		Method:     strings.ToUpper(r.Method),
		Resource:   CanonicalResource(r),
	}
	if ctx.ConsumerID == "" {
		return nil, reject(ReasonMalformedRequest, "missing id parameter")
	}
	if ctx.Nonce == "" {
		return nil, reject(ReasonMalformedRequest, "missing nonce parameter")
	}
	if ctx.MAC == "" {
		return nil, reject(ReasonMalformedRequest, "missing mac parameter")
	}
	rawTS := params["ts"]
	if rawTS == "" {
		return nil, reject(ReasonMalformedRequest, "missing ts parameter")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, reject(ReasonMalformedRequest, "ts parameter is not an integer")
	}
	ctx.Timestamp = ts

	host, port, err := splitHostPort(r)
	if err != nil {
		return nil, err
	}
	ctx.Host = host
	ctx.Port = port
	return ctx, nil
}

func parseHawkParams(raw string) (map[string]string, error) {
	params := make(map[string]string, 6)
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, found := strings.Cut(field, "=")
		if !found {
			return nil, reject(ReasonMalformedRequest, "malformed Hawk parameter")
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
			return nil, reject(ReasonMalformedRequest, "Hawk parameter value must be quoted")
		}
		params[key] = value[1 : len(value)-1]
	}
	return params, nil
}

func splitHostPort(r *http.Request) (string, string, error) {
	hostHeader := r.Host
	if hostHeader == "" {
		hostHeader = r.URL.Host
	}
	if hostHeader == "" {
		return "", "", reject(ReasonMalformedRequest, "missing Host header")
	}
	host, port, err := net.SplitHostPort(hostHeader)
	if err != nil {
		host = hostHeader
		if r.TLS != nil || r.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host, port, nil
}

// CanonicalResource normalises the request path and query ordering for
// signing, matching what signing clients compute.
func CanonicalResource(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// CanonicalString serialises the signature context into the fixed
// newline-delimited form covered by the MAC.
func CanonicalString(ctx *SignatureContext) string {
	return strings.Join([]string{
		headerVersion,
		strconv.FormatInt(ctx.Timestamp, 10),
		ctx.Nonce,
		ctx.Method,
		ctx.Resource,
		strings.ToLower(ctx.Host),
		ctx.Port,
		ctx.Hash,
		ctx.Ext,
	}, "\n") + "\n"
}

// PayloadHash computes the base64 SHA-256 payload hash over the content type
// and body. The content type is normalised to its media type in lower case.
func PayloadHash(contentType string, body []byte) string {
	media := contentType
	if idx := strings.IndexByte(media, ';'); idx >= 0 {
		media = media[:idx]
	}
	media = strings.ToLower(strings.TrimSpace(media))
	h := sha256.New()
	h.Write([]byte(payloadVersion + "\n"))
	h.Write([]byte(media + "\n"))
	h.Write(body)
	h.Write([]byte("\n"))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ComputeMAC builds the HMAC-SHA256 signature over the canonical string.
func ComputeMAC(secret, canonical string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

// VerifyMAC decodes the presented base64 MAC and compares it against the
// expected digest in constant time.
func VerifyMAC(secret, canonical, presented string) bool {
	decoded, err := base64.StdEncoding.DecodeString(presented)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, ComputeMAC(secret, canonical))
}

// BuildHeader renders a Hawk Authorization header value from the context and
// MAC, used by signing clients.
func BuildHeader(ctx *SignatureContext, mac string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Hawk id="%s", ts="%d", nonce="%s"`, ctx.ConsumerID, ctx.Timestamp, ctx.Nonce)
	if ctx.Hash != "" {
		fmt.Fprintf(&b, `, hash="%s"`, ctx.Hash)
	}
	if ctx.Ext != "" {
		fmt.Fprintf(&b, `, ext="%s"`, ctx.Ext)
	}
	fmt.Fprintf(&b, `, mac="%s"`, mac)
	return b.String()
}
