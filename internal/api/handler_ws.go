package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// wsHandler upgrades the connection and delegates to events.Bus, which owns
// the connection's subscribe/command/ack lifecycle (spec §6 "per-task
// WebSocket channel"). Origin is checked against the server's configured
// allowlist rather than accepted unconditionally, since this surface is
// exposed outside the trusted cluster network the teacher's deployment
// assumed.
func (s *Server) wsHandler(c *echo.Context) error {
	userID := extractUserID(c)

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.deps.AllowedWSOrigins,
	})
	if err != nil {
		return writeEngineError(c, model.Wrap(model.KindValidation, err, "websocket upgrade failed"))
	}

	s.deps.Bus.HandleConnection(c.Request().Context(), conn, userID)
	return nil
}
