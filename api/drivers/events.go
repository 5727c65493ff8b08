package drivers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/freight/core/events"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// Event is the wire form of a bus event sent to a driver.
type Event struct {
	Type      string     `json:"type"`
	LoadID    string     `json:"load_id,omitempty"`
	ShiftID   string     `json:"shift_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Time      time.Time  `json:"time"`
}

func toEvent(ev any) Event {
	out := Event{Type: events.Kind(ev)}
	switch e := ev.(type) {
	case events.LoadReserved:
		exp := e.ExpiresAt
		out.LoadID, out.ExpiresAt, out.Time = e.LoadID, &exp, e.Time
	case events.LoadReleased:
		out.LoadID, out.Reason, out.Time = e.LoadID, e.Reason, e.Time
	case events.LoadStarted:
		out.LoadID, out.Time = e.LoadID, e.Time
	case events.LoadCompleted:
		out.LoadID, out.Time = e.LoadID, e.Time
	case events.ShiftStarted:
		out.ShiftID, out.Time = e.ShiftID, e.Time
	case events.ShiftEnded:
		out.ShiftID, out.Time = e.ShiftID, e.Time
	}
	return out
}

// stream sends the driver's reservation and shift events over a
// websocket until the client goes away or the bus closes.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	driverID := r.PathValue("id")
	if _, err := h.svc.GetDriver(r.Context(), driverID); err != nil {
		h.fail(w, r, err)
		return
	}
	// Subscribed before the upgrade completes so no event after the
	// handshake is missed.
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// The read loop only serves control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(readTimeout)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeTimeout))
				return
			}
			if id, ok := events.DriverOf(ev); !ok || id != driverID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(toEvent(ev)); err != nil {
				h.log.Warnf("event stream for driver %s: %v", driverID, err)
				return
			}
		}
	}
}
