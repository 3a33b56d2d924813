package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/lan-chat/internal/stats"
	"github.com/npezzotti/lan-chat/internal/types"
)

const (
	metricActiveClients  = "NumActiveClients"
	metricBroadcasts     = "NumBroadcasts"
	metricDroppedClients = "NumDroppedClients"

	broadcastBuffer = 256
)

type stopReq struct {
	done chan struct{}
}

// Notifier keeps the set of live client connections and fans typed change
// events out to them. Events carry no payload; clients re-fetch on receipt.
type Notifier struct {
	log            *log.Logger
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.RWMutex
	registerChan   chan *Client
	deregisterChan chan *Client
	broadcastChan  chan types.EventType
	stop           chan stopReq
	done           chan struct{}
}

func NewNotifier(logger *log.Logger, su stats.StatsProvider) *Notifier {
	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricBroadcasts)
	su.RegisterMetric(metricDroppedClients)

	return &Notifier{
		log:            logger,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		broadcastChan:  make(chan types.EventType, broadcastBuffer),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (n *Notifier) Run() {
	for {
		select {
		case c := <-n.registerChan:
			n.log.Printf("adding connection %s for user %d", c.id, c.userId)
			if first := n.addClient(c); first {
				n.fanout(types.UserUpdate)
			}
		case c := <-n.deregisterChan:
			n.log.Printf("removing connection %s for user %d", c.id, c.userId)
			if last := n.removeClient(c); last {
				n.fanout(types.UserUpdate)
			}
		case ev := <-n.broadcastChan:
			n.fanout(ev)
		case req := <-n.stop:
			n.log.Println("closing client connections")
			n.clientsLock.Lock()
			for c := range n.clients {
				c.stopClient()
				delete(n.clients, c)
				n.stats.Decr(metricActiveClients)
			}
			n.userMap = make(map[int]map[*Client]struct{})
			n.clientsLock.Unlock()

			close(n.done)
			close(req.done)
			return
		}
	}
}

// Subscribe adds c to the fan-out set. It is a no-op after shutdown.
func (n *Notifier) Subscribe(c *Client) {
	select {
	case n.registerChan <- c:
	case <-n.done:
		c.stopClient()
	}
}

// Unsubscribe removes c from the fan-out set. It is a no-op after shutdown.
func (n *Notifier) Unsubscribe(c *Client) {
	select {
	case n.deregisterChan <- c:
	case <-n.done:
	}
}

// Broadcast queues ev for every connected client without blocking. If the
// queue is full the event is dropped.
func (n *Notifier) Broadcast(ev types.EventType) {
	select {
	case n.broadcastChan <- ev:
	default:
		n.log.Printf("broadcast queue full, dropping %s", ev)
	}
}

func (n *Notifier) fanout(ev types.EventType) {
	n.stats.Incr(metricBroadcasts)
	msg := &types.Event{Type: ev}

	n.clientsLock.RLock()
	var dead []*Client
	for c := range n.clients {
		if !c.queueMessage(msg) {
			dead = append(dead, c)
		}
	}
	n.clientsLock.RUnlock()

	for _, c := range dead {
		n.log.Printf("dropping slow connection %s for user %d", c.id, c.userId)
		n.stats.Incr(metricDroppedClients)
		last := n.removeClient(c)
		c.stopClient()
		if last {
			n.Broadcast(types.UserUpdate)
		}
	}
}

// addClient reports whether c is the user's first live connection.
func (n *Notifier) addClient(c *Client) bool {
	n.clientsLock.Lock()
	defer n.clientsLock.Unlock()

	if _, ok := n.clients[c]; ok {
		return false
	}

	n.clients[c] = struct{}{}
	n.stats.Incr(metricActiveClients)

	first := n.userMap[c.userId] == nil
	if first {
		n.userMap[c.userId] = make(map[*Client]struct{})
	}
	n.userMap[c.userId][c] = struct{}{}
	return first
}

// removeClient reports whether c was the user's last live connection.
func (n *Notifier) removeClient(c *Client) bool {
	n.clientsLock.Lock()
	defer n.clientsLock.Unlock()

	if _, ok := n.clients[c]; !ok {
		return false
	}

	delete(n.clients, c)
	n.stats.Decr(metricActiveClients)

	if userClients, ok := n.userMap[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(n.userMap, c.userId)
			return true
		}
	}
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (n *Notifier) IsOnline(userId int) bool {
	n.clientsLock.RLock()
	defer n.clientsLock.RUnlock()

	return n.userMap[userId] != nil
}

func (n *Notifier) NumClients() int {
	n.clientsLock.RLock()
	defer n.clientsLock.RUnlock()

	return len(n.clients)
}

// Shutdown closes every client connection and stops Run.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case n.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
