package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/valyala/fasthttp"
)

// Header names carrying credentials on the upgrade request.
const (
	HeaderClientID  = "X-Client-Id"
	HeaderSign      = "X-Sign"
	HeaderTimestamp = "X-Timestamp"
)

// Query parameters used when the client cannot set headers (browsers).
const (
	QueryClientID  = "client_id"
	QuerySign      = "sign"
	QueryTimestamp = "ts"
)

// Credentials are the caller-supplied values checked before upgrade.
type Credentials struct {
	ClientID  string `json:"client_id"`
	Sign      string `json:"sign"`
	Timestamp int64  `json:"ts"`
}

// FromRequest extracts credentials from headers, falling back to the query string.
func FromRequest(ctx *fasthttp.RequestCtx) (Credentials, error) {
	lookup := func(header, query string) string {
		if v := strings.TrimSpace(string(ctx.Request.Header.Peek(header))); v != "" {
			return v
		}
		return strings.TrimSpace(string(ctx.QueryArgs().Peek(query)))
	}
	return Parse(
		lookup(HeaderClientID, QueryClientID),
		lookup(HeaderSign, QuerySign),
		lookup(HeaderTimestamp, QueryTimestamp),
	)
}

// Parse validates raw credential values.
func Parse(clientID, sign, ts string) (Credentials, error) {
	switch {
	case clientID == "":
		return Credentials{}, fmt.Errorf("%w: client id", types.ErrMissingCredential)
	case sign == "":
		return Credentials{}, fmt.Errorf("%w: sign", types.ErrMissingCredential)
	case ts == "":
		return Credentials{}, fmt.Errorf("%w: timestamp", types.ErrInvalidTimestamp)
	}

	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %q", types.ErrInvalidTimestamp, ts)
	}
	return Credentials{ClientID: clientID, Sign: sign, Timestamp: n}, nil
}
