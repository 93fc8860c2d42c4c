package pagechannel

import (
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const maxMessageSize = 4096

// ClientIDParam is the query parameter identifying the sending page.
const ClientIDParam = "client"

// EventsHandler streams outbound messages to a page as server-sent events.
// The first event, named "hello", carries the client id the page must use
// when posting messages. onConnect runs after the hello event was flushed.
func EventsHandler(hub *Hub, controlled func() bool, onConnect func(*Client)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		client := hub.Register(controlled())
		defer hub.Unregister(client.ID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: hello\ndata: {\"client\":%q}\n\n", client.ID)
		flusher.Flush()

		if onConnect != nil {
			onConnect(client)
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, open := <-client.Messages():
				if !open {
					return
				}
				b, err := Encode(msg)
				if err != nil {
					logger.Error().Err(err).Msg("Could not encode message")
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
					logger.Debug().Err(err).Str("client", client.ID).Msg("Could not write event")
					return
				}
				flusher.Flush()
			}
		}
	}
}

// MessageHandler accepts inbound messages posted by pages.
func MessageHandler(hub *Hub, receive func(*Client, Message)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		id := r.URL.Query().Get(ClientIDParam)
		client, ok := hub.Get(id)
		if !ok {
			http.Error(w, "Unknown client", http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "Could not read message", http.StatusBadRequest)
			return
		}
		msg, err := Decode(body)
		if err != nil {
			logger.Debug().Err(err).Str("client", id).Msg("Rejected message")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		receive(client, msg)
		w.WriteHeader(http.StatusAccepted)
	}
}
