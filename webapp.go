package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/makaw/minimax4j/chesshash"
	"github.com/makaw/minimax4j/zobrist"
)

const DefaultPort = 8080

// Upper bound on a PGN request body.
const maxRequestBytes = 1 << 20

var log = slog.Default().With("package", "main")

func stdoutLogger(next http.Handler) http.Handler {
	return handlers.LoggingHandler(os.Stdout, next)
}

type Client struct {
	conn        *websocket.Conn
	application *Application
}

type Application struct {
	router      *mux.Router
	base        *zobrist.Hasher
	clients     map[*Client]interface{}
	clientsLock sync.RWMutex
	upgrader    websocket.Upgrader
}

type fingerprintRequest struct {
	PGN string `json:"pgn"`
}

type streamStatus struct {
	Done      bool   `json:"done,omitempty"`
	Positions int    `json:"positions,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewApplication serves fingerprints hashed in the lineage of base, which
// must be an empty 13x64 hasher. Requests only ever clone it.
func NewApplication(base *zobrist.Hasher) *Application {
	result := Application{
		router:  mux.NewRouter(),
		base:    base,
		clients: make(map[*Client]interface{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	result.router.NotFoundHandler = stdoutLogger(http.HandlerFunc(notFoundHandler))
	result.router.Use(stdoutLogger)

	result.router.HandleFunc("/", result.indexHandler).Methods(http.MethodGet)
	result.router.HandleFunc("/api/fingerprint", result.fingerprintHandler).Methods(http.MethodPost)
	result.router.HandleFunc("/ws", result.wsHandler)
	return &result
}

func (app *Application) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Zobrist position fingerprints for PGN games.")
	fmt.Fprintln(w, `POST /api/fingerprint {"pgn": "..."}`)
	fmt.Fprintln(w, `GET  /ws (send {"pgn": "..."}, receive one fingerprint per message)`)
}

func (app *Application) fingerprintHandler(w http.ResponseWriter, r *http.Request) {
	var req fingerprintRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	results, err := chesshash.FingerprintGame(req.PGN, chesshash.WithBase(app.base))
	if err != nil {
		log.Error("Error fingerprinting game", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Pointers so the custom MarshalJSON applies.
	out := make([]*chesshash.PositionFingerprint, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error("Error writing response", "error", err)
	}
}

func (application *Application) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := application.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Error("Error upgrading connection", "error", err)
		return
	}
	log.Info("New websocket connection", "remote", conn.RemoteAddr().String())
	client := &Client{
		conn:        conn,
		application: application,
	}
	application.clientsLock.Lock()
	application.clients[client] = nil
	application.clientsLock.Unlock()
	go client.serve()
}

// serve handles one request at a time, so only this goroutine writes to conn.
func (client *Client) serve() {
	defer client.application.removeClient(client)
	for {
		_, messageJson, err := client.conn.ReadMessage()
		if err != nil {
			log.Info("Websocket closed", "remote", client.conn.RemoteAddr().String(), "error", err)
			return
		}
		var req fingerprintRequest
		if err := json.Unmarshal(messageJson, &req); err != nil {
			log.Error("Error parsing message", "error", err)
			if err := client.conn.WriteJSON(streamStatus{Error: "invalid message: " + err.Error()}); err != nil {
				return
			}
			continue
		}
		if err := client.stream(req.PGN); err != nil {
			log.Error("Error writing to websocket", "error", err)
			return
		}
	}
}

func (client *Client) stream(pgn string) error {
	resultsChan, errChan := chesshash.FingerprintGameStreaming(pgn, chesshash.WithBase(client.application.base))
	count := 0
	var writeErr error
	for f := range resultsChan {
		// Keep draining after a write error so the producer can finish.
		if writeErr != nil {
			continue
		}
		writeErr = client.conn.WriteJSON(f)
		count++
	}
	if writeErr != nil {
		return writeErr
	}
	if err := <-errChan; err != nil {
		return client.conn.WriteJSON(streamStatus{Error: err.Error()})
	}
	return client.conn.WriteJSON(streamStatus{Done: true, Positions: count})
}

func (app *Application) removeClient(client *Client) {
	app.clientsLock.Lock()
	delete(app.clients, client)
	app.clientsLock.Unlock()
	client.conn.Close()
}

// Close drops every open websocket connection.
func (app *Application) Close() {
	app.clientsLock.RLock()
	defer app.clientsLock.RUnlock()
	for client := range app.clients {
		client.conn.Close()
	}
}

func (app *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.router.ServeHTTP(w, r)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "File Not Found", http.StatusNotFound)
}

func main() {
	var port uint
	var seed string
	flag.UintVar(&port, "port", DefaultPort, "Port to listen on")
	flag.StringVar(&seed, "seed", "", "Key table seed; empty draws a random table per process")
	flag.Parse()
	if port == 0 || port > 65535 {
		fmt.Println("Invalid port number")
		os.Exit(1)
	}

	var opts []zobrist.KeyTableOption
	if seed != "" {
		opts = append(opts, zobrist.WithSeedString(seed))
	}
	base, err := zobrist.New(chesshash.NumPieceKinds, chesshash.NumSquares, opts...)
	if err != nil {
		log.Error("Error building key table", "error", err)
		os.Exit(1)
	}

	app := NewApplication(base)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: app,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Close()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("Starting server", "port", port, "seeded", seed != "")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
