package routes

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sevasetu/donation-service/models"
)

// donationFeed pushes newly paid donations to websocket subscribers, so the
// frontend can show a live donor wall. A sync.Map keyed by order id guards
// against broadcasting the same donation twice when confirmation and webhook
// both observe the transition window.
type donationFeed struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
	announced  sync.Map
}

func newDonationFeed() *donationFeed {
	return &donationFeed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (f *donationFeed) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-f.register:
			f.mutex.Lock()
			f.clients[client] = true
			f.mutex.Unlock()

		case client := <-f.unregister:
			f.mutex.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				client.Close()
			}
			f.mutex.Unlock()

		case message := <-f.broadcast:
			f.mutex.Lock()
			for client := range f.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("Feed write failed, dropping client: %v", err)
					client.Close()
					delete(f.clients, client)
				}
			}
			f.mutex.Unlock()

		case <-cleanupTicker.C:
			f.cleanupInvalidConnections()
		}
	}
}

// cleanupInvalidConnections pings each client and drops dead connections.
func (f *donationFeed) cleanupInvalidConnections() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for client := range f.clients {
		if err := client.WriteMessage(websocket.PingMessage, nil); err != nil {
			client.Close()
			delete(f.clients, client)
		}
	}
}

// BroadcastPaidDonation announces a donation that just turned paid. At most
// one announcement per order id.
func (f *donationFeed) BroadcastPaidDonation(donation *models.Donation) {
	if _, seen := f.announced.LoadOrStore(donation.RazorpayOrderID, true); seen {
		return
	}

	message, err := json.Marshal(map[string]interface{}{
		"type":      "donation_paid",
		"donation":  donationView(donation),
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		log.Printf("Failed to marshal feed message: %v", err)
		return
	}

	select {
	case f.broadcast <- message:
	default:
		// Feed is saturated; the donation record itself is authoritative.
		log.Printf("Feed channel full, dropping announcement for order %s", donation.RazorpayOrderID)
	}
}

// Subscribe upgrades the request to a websocket and keeps it in the client
// set until it disconnects.
func (f *donationFeed) Subscribe(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	f.register <- conn

	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		// Subscribers are read-only; answer pings, ignore everything else.
		if messageType == websocket.PingMessage {
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				break
			}
		}
	}

	f.unregister <- conn
}
