package rates

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fxstream/internal/api/http/middlewares"
	"fxstream/internal/provider"
	"fxstream/internal/security"
	"fxstream/internal/stream"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512

	sseWriteTimeout = 10 * time.Second
)

// Defaults are used when a request leaves base or symbols empty.
type Defaults struct {
	Base       string
	Symbols    string
	MaxSymbols int
}

// Controller serves the live rate streams over SSE and WebSocket.
type Controller struct {
	hub      *stream.Hub
	guard    *security.Guard
	defaults Defaults
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(hub *stream.Hub, guard *security.Guard, defaults Defaults, log *slog.Logger) *Controller {
	return &Controller{
		hub:      hub,
		guard:    guard,
		defaults: defaults,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// OriginGuard has already run.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (c *Controller) RegisterRoutes(r *gin.Engine) {
	corsMw := middlewares.CORS(c.guard)

	r.GET("/sse/rates", middlewares.OriginGuard(c.guard, c.log, "/sse/rates", true), corsMw, c.sse)
	r.OPTIONS("/sse/rates", corsMw, c.preflight)
	r.GET("/ws/rates", middlewares.OriginGuard(c.guard, c.log, "/ws/rates", true), c.ws)
}

// preflight answers OPTIONS requests the CORS middleware passed through
// (no Origin header or same-origin).
func (c *Controller) preflight(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Methods", "GET,OPTIONS")
	ctx.Header("Access-Control-Allow-Headers", "Content-Type")
	ctx.Status(http.StatusNoContent)
}

// request resolves base and symbols from the query, falling back to the
// configured defaults for empty values.
func (c *Controller) request(ctx *gin.Context) (string, []string, error) {
	base := strings.TrimSpace(ctx.Query("base"))
	if base == "" {
		base = c.defaults.Base
	}
	raw := ctx.Query("symbols")
	if raw == "" {
		raw = c.defaults.Symbols
	}
	symbols := provider.ParseSymbols(raw, c.defaults.MaxSymbols)
	if len(symbols) == 0 {
		return "", nil, provider.ErrNoSymbols
	}
	return provider.NormalizeBase(base), symbols, nil
}

func (c *Controller) sse(ctx *gin.Context) {
	ip := ctx.ClientIP()
	if err := c.hub.CanAccept(ip); err != nil {
		ctx.String(http.StatusTooManyRequests, err.Error())
		return
	}
	base, symbols, err := c.request(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h := ctx.Writer.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)
	ctx.Writer.WriteHeaderNow()
	ctx.Writer.Flush()

	sink, err := stream.NewSSESink(ctx.Writer, sseWriteTimeout)
	if err != nil {
		c.log.Error("sse sink", "error", err)
		return
	}
	sub, err := c.hub.Admit(stream.Conn{IP: ip, Base: base, Symbols: symbols, Sink: sink})
	if err != nil {
		// lost the race for the last slot after CanAccept
		payload, _ := json.Marshal(stream.StatusEvent{Stage: stream.StageError, Message: err.Error()})
		_ = sink.WriteEvent(stream.EventStatus, payload)
		return
	}
	defer c.hub.RemoveClient(sub)

	reqCtx := ctx.Request.Context()
	if err := c.hub.SendInitial(reqCtx, sub); err != nil {
		c.hub.SendError(sub, err)
	}

	select {
	case <-reqCtx.Done():
	case <-sub.Done():
	}
}

func (c *Controller) ws(ctx *gin.Context) {
	ip := ctx.ClientIP()
	if err := c.hub.CanAccept(ip); err != nil {
		ctx.String(http.StatusTooManyRequests, err.Error())
		return
	}
	base, symbols, err := c.request(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Debug("websocket upgrade failed", "ip", ip, "error", err)
		return
	}
	defer conn.Close()

	sub, err := c.hub.Admit(stream.Conn{IP: ip, Base: base, Symbols: symbols, Sink: stream.NewWebSocketSink(conn, wsWriteWait)})
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		return
	}
	defer c.hub.RemoveClient(sub)

	readDone := make(chan struct{})
	go c.readPump(conn, readDone)

	if err := c.hub.SendInitial(ctx.Request.Context(), sub); err != nil {
		c.hub.SendError(sub, err)
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-sub.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and detects the close.
func (c *Controller) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}
