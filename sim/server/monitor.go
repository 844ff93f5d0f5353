package server

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/virtaccl/virtaccl/sim"
)

// Update is one value pushed to monitors.
type Update struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Hello is the first message sent on a monitor connection.
type Hello struct {
	Session string   `json:"session"`
	Names   []string `json:"names,omitempty"`
}

const (
	monitorBuffer = 64
	writeTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	id     string
	filter map[string]struct{} // nil means every parameter
	out    chan []Update
}

func (sub *subscriber) wants(name string) bool {
	if sub.filter == nil {
		return true
	}
	_, ok := sub.filter[name]
	return ok
}

// hub fans flushed updates out to monitor connections. A subscriber that falls
// behind by more than monitorBuffer flushes loses the oldest batches.
type hub struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[string]*subscriber)}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) add(filter map[string]struct{}) *subscriber {
	sub := &subscriber{id: uuid.New().String(), filter: filter, out: make(chan []Update, monitorBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.id] = sub
	return sub
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.out)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.out)
	}
}

func (h *hub) broadcast(updates []Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		batch := updates
		if sub.filter != nil {
			batch = nil
			for _, u := range updates {
				if sub.wants(u.Name) {
					batch = append(batch, u)
				}
			}
			if len(batch) == 0 {
				continue
			}
		}
		for sent := false; !sent; {
			select {
			case sub.out <- batch:
				sent = true
			default:
				select {
				case <-sub.out:
					logrus.Warnf("monitor %s: slow consumer, dropping oldest update", sub.id)
				default:
				}
			}
		}
	}
}

// handleMonitor upgrades to a websocket and streams updates. ?names=a,b restricts
// the stream to those parameters; the current values of the subscribed names are
// sent right after the hello message.
func (s *Server) handleMonitor(c *gin.Context) {
	var filter map[string]struct{}
	var names []string
	if q := c.Query("names"); q != "" {
		filter = make(map[string]struct{})
		for _, n := range strings.Split(q, ",") {
			if n = strings.TrimSpace(n); n != "" {
				filter[n] = struct{}{}
				names = append(names, n)
			}
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("monitor: upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	sub := s.hub.add(filter)
	defer s.hub.remove(sub)
	logrus.Debugf("monitor %s: connected (%d names)", sub.id, len(names))

	if err := ws.WriteJSON(Hello{Session: sub.id, Names: names}); err != nil {
		return
	}
	if initial := s.snapshot(sub); len(initial) > 0 {
		if err := ws.WriteJSON(initial); err != nil {
			return
		}
	}

	// Reader: surfaces client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			logrus.Debugf("monitor %s: disconnected", sub.id)
			return
		case batch, ok := <-sub.out:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(batch); err != nil {
				logrus.Debugf("monitor %s: write: %v", sub.id, err)
				return
			}
		}
	}
}

func (s *Server) snapshot(sub *subscriber) []Update {
	if sub.filter == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Update
	for name := range sub.filter {
		if e, ok := s.values[name]; ok {
			out = append(out, Update{Name: name, Value: sim.ToAny(e.Value), Timestamp: e.Timestamp})
		}
	}
	slices.SortFunc(out, func(a, b Update) int { return strings.Compare(a.Name, b.Name) })
	return out
}
