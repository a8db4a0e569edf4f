package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:userID", websocket.New(func(c *websocket.Conn) {
		userID := c.Params("userID")
		watcher := hub.Register(userID)
		defer hub.Unregister(watcher)

		done := make(chan struct{})
		go func() {
			for msg := range watcher.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		<-done
	}))
}
