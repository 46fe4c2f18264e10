package live

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ServeWS upgrades the request and streams the review's events until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, reviewID int64) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// We never expect client frames; CloseRead surfaces disconnects through
	// the returned context.
	ctx := conn.CloseRead(r.Context())

	events, cancel := h.Subscribe(reviewID)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case e := <-events:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}
