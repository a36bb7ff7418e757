package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Classic (pre-Core) SignalR wire format. Inbound frames wrap zero or more
// hub messages; keepalive and init frames carry no message array at all.

type envelope struct {
	Messages []hubMessage `json:"M"`
}

type hubMessage struct {
	Hub    string          `json:"H"`
	Method string          `json:"M"`
	Args   json.RawMessage `json:"A"`
}

// clientMessage is an outbound hub invocation.
type clientMessage struct {
	Hub    string `json:"H"`
	Method string `json:"M"`
	Args   []any  `json:"A"`
	ID     int    `json:"I"`
}

const (
	transportWebSockets = "webSockets"

	methodJoin   = "Join"
	methodUpdate = "update"
)

// connectionData encodes the hub subscription list sent in the
// connectionData query parameter.
func connectionData(hub string) string {
	return `[{"name":"` + hub + `"}]`
}

// connectURL builds the persistent-connection endpoint URL, rewriting the
// scheme to its websocket equivalent.
func connectURL(baseURL, protocol, token, hub string, tid int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/signalr/connect"

	q := url.Values{}
	q.Set("transport", transportWebSockets)
	q.Set("clientProtocol", protocol)
	q.Set("connectionToken", token)
	q.Set("connectionData", connectionData(hub))
	q.Set("tid", strconv.Itoa(tid))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
