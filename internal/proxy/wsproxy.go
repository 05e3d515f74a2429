package proxy

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/hangarhq/hangar/internal/hlog"
	"github.com/hangarhq/hangar/internal/registry"
)

// dialTimeout bounds the inner TCP dial and handshake to the app port.
const dialTimeout = 5 * time.Second

// WSProxy upgrades the outer client connection with coder/websocket, then
// tunnels frames to and from a hand-rolled inner client connection to the
// app's WebSocket port. Outer accept uses the library because nothing
// about its framing hides the buffering detail this component actually
// depends on; the inner leg is hand-written because it does (wsframe.go).
type WSProxy struct {
	Registry *registry.Registry
}

// NewWS constructs a WSProxy.
func NewWS(reg *registry.Registry) *WSProxy {
	return &WSProxy{Registry: reg}
}

// splitSubprotocols flattens the (possibly multi-line, comma-joined)
// Sec-WebSocket-Protocol header values the client sent into an ordered
// list of candidate subprotocol names.
func splitSubprotocols(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// CanHandle reports whether first names a non-reserved, running app with
// an effective WebSocket port. It does not look at the request's Upgrade
// header; the caller checks that and decides routing.
func (p *WSProxy) CanHandle(first string, rec registry.AppRecord) bool {
	if registry.IsReserved(first) {
		return false
	}
	if rec.Status != registry.StatusRunning {
		return false
	}
	return rec.EffectiveWSPort() != 0
}

// ServeWS accepts the outer WebSocket, dials the inner one, and pumps
// frames bidirectionally until either side closes or errors.
func (p *WSProxy) ServeWS(w http.ResponseWriter, r *http.Request, rec registry.AppRecord, rest string) {
	clientProtos := splitSubprotocols(r.Header["Sec-Websocket-Protocol"])

	outer, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: clientProtos})
	if err != nil {
		hlog.Warn("wsproxy: outer accept failed", "app", rec.Name, "err", err)
		return
	}
	defer outer.CloseNow()

	wsPort := rec.EffectiveWSPort()
	target := "127.0.0.1:" + strconv.Itoa(wsPort)

	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		outer.Close(websocket.StatusGoingAway, "App port unreachable")
		return
	}
	defer conn.Close()

	path := rest
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	handshake, key, err := buildHandshakeRequest(target, path, clientProtos)
	if err != nil {
		outer.Close(websocket.StatusGoingAway, "App port unreachable")
		return
	}
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(handshake); err != nil {
		outer.Close(websocket.StatusGoingAway, "App port unreachable")
		return
	}

	br := bufio.NewReader(conn)
	innerProto, err := readHandshakeResponse(br, key)
	if err != nil {
		hlog.Warn("wsproxy: inner handshake failed", "app", rec.Name, "err", err)
		outer.Close(websocket.StatusGoingAway, "App port unreachable")
		return
	}
	if innerProto != outer.Subprotocol() {
		hlog.Warn("wsproxy: inner/outer subprotocol mismatch", "app", rec.Name, "inner", innerProto, "outer", outer.Subprotocol())
	}
	_ = conn.SetDeadline(time.Time{})

	// Any bytes readHandshakeResponse left buffered in br belong to frames
	// that arrived in the same TCP segment as the 101 response. Those
	// must not be dropped: fr reads from br, not from conn directly, so
	// the very next ReadMessage picks them straight back up.
	fr := newFrameReader(br)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	go pumpOuterToInner(ctx, outer, conn, done)
	go pumpInnerToOuter(ctx, outer, conn, fr, done)

	// Whichever pump exits first, unblock the other: cancel stops the
	// outer.Read/Write calls, but the inner leg is a plain net.Conn with
	// no context awareness, so its blocking read only unblocks once the
	// socket itself is closed.
	<-done
	cancel()
	conn.Close()
	outer.CloseNow()
	<-done
}

// pumpOuterToInner reads messages the outer client sends and forwards
// them as masked frames on the inner connection. A close initiated by
// the outer client is forwarded upstream as a close frame carrying the
// same code and reason before the pump exits.
func pumpOuterToInner(ctx context.Context, outer *websocket.Conn, inner net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		typ, data, err := outer.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				_ = writeFrame(inner, true, OpClose, closePayload(ce.Code, ce.Reason))
			}
			return
		}
		op := OpBinary
		if typ == websocket.MessageText {
			op = OpText
		}
		if err := writeFrame(inner, true, op, data); err != nil {
			return
		}
	}
}

// closePayload builds an RFC 6455 close-frame payload: a two-byte
// big-endian status code followed by the UTF-8 reason text.
func closePayload(code websocket.StatusCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload
}

// closeCodeAndReason parses an RFC 6455 close-frame payload back into
// its status code and reason text. Payloads shorter than two bytes
// carry no status code per RFC 6455 §7.1.5.
func closeCodeAndReason(payload []byte) (websocket.StatusCode, string) {
	if len(payload) < 2 {
		return websocket.StatusNoStatusRcvd, ""
	}
	return websocket.StatusCode(binary.BigEndian.Uint16(payload[:2])), string(payload[2:])
}

// pumpInnerToOuter reads frames off the inner connection and forwards
// them as messages to the outer client. Ping frames are answered with a
// pong on the inner leg directly rather than surfaced to the outer
// client: the tunnel's keepalive traffic never crosses to the outer
// side.
func pumpInnerToOuter(ctx context.Context, outer *websocket.Conn, inner net.Conn, fr *frameReader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := fr.ReadMessage()
		if err != nil {
			return
		}
		switch frame.Opcode {
		case OpPing:
			if err := writeFrame(inner, true, OpPong, frame.Payload); err != nil {
				return
			}
		case OpPong:
			continue
		case OpClose:
			// Echo the close back upstream, then close the outer
			// connection with the code and reason the app sent.
			_ = writeFrame(inner, true, OpClose, frame.Payload)
			code, reason := closeCodeAndReason(frame.Payload)
			outer.Close(code, reason)
			return
		default:
			typ := websocket.MessageBinary
			if frame.Opcode == OpText {
				typ = websocket.MessageText
			}
			if err := outer.Write(ctx, typ, frame.Payload); err != nil {
				return
			}
		}
	}
}
