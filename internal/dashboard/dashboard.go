// Package dashboard serves a live view of the credit engine: the installed
// model, the decisions it has made since startup and its latest input drift
// report.
//
// Snapshots are available as JSON under /api/snapshot and are streamed to
// WebSocket clients on /ws at a fixed interval.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"net/http"
	"sync"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/explain"
	"credit-engine/internal/scoring"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultInterval = 2 * time.Second

var _ scoring.Observer = (*Tally)(nil)

// Source is the part of scoring.Model the dashboard reads.
type Source interface {
	Info() scoring.Info
	Drift() (drift.Report, error)
}

// Snapshot is one view of the engine.
type Snapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	Model           scoring.Info   `json:"model"`
	Decisions       map[string]int `json:"decisions"`
	Rejections      map[string]int `json:"rejections"`
	MeanProbability float64        `json:"mean_probability"`
	Drift           *drift.Report  `json:"drift,omitempty"`
}

// Tally counts the decisions of the installed model. Register it with the
// model as a scoring.Observer.
type Tally struct {
	mu         sync.Mutex
	decisions  map[string]int
	rejections map[string]int
	probSum    float64
	served     int
}

func NewTally() *Tally {
	return &Tally{
		decisions:  make(map[string]int),
		rejections: make(map[string]int),
	}
}

func (t *Tally) PredictionServed(p float64, decision explain.Decision, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions[string(decision)]++
	t.probSum += p
	t.served++
}

func (t *Tally) PredictionRejected(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejections[reason]++
}

// ModelInstalled resets the counts, which describe the installed model only.
func (t *Tally) ModelInstalled(scoring.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions = make(map[string]int)
	t.rejections = make(map[string]int)
	t.probSum = 0
	t.served = 0
}

func (t *Tally) fill(s *Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Decisions = maps.Clone(t.decisions)
	s.Rejections = maps.Clone(t.rejections)
	if t.served > 0 {
		s.MeanProbability = t.probSum / float64(t.served)
	}
}

// Dashboard publishes snapshots of the engine.
type Dashboard struct {
	source   Source
	tally    *Tally
	server   *http.Server
	logger   zerolog.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

// Option configures a Dashboard.
type Option func(*Dashboard)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dashboard) { d.logger = logger }
}

// WithInterval sets how often snapshots are pushed to WebSocket clients.
func WithInterval(interval time.Duration) Option {
	return func(d *Dashboard) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// New creates a dashboard for source listening on port. A nil tally reports
// no decisions.
func New(source Source, tally *Tally, port int, opts ...Option) *Dashboard {
	if tally == nil {
		tally = NewTally()
	}
	d := &Dashboard{
		source:   source,
		tally:    tally,
		logger:   log.Logger,
		interval: defaultInterval,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	r := mux.NewRouter()
	r.HandleFunc("/", d.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", d.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/ws", d.handleWebSocket).Methods(http.MethodGet)

	d.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return d
}

// Handler returns the dashboard's router.
func (d *Dashboard) Handler() http.Handler {
	return d.server.Handler
}

// Run serves the dashboard and streams snapshots until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	go d.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info().Str("addr", d.server.Addr).Msg("starting dashboard")
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	d.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.server.Shutdown(shutdownCtx)
}

// Snapshot collects the current view.
func (d *Dashboard) Snapshot() Snapshot {
	s := Snapshot{
		Timestamp: time.Now().UTC(),
		Model:     d.source.Info(),
	}
	if report, err := d.source.Drift(); err == nil {
		s.Drift = &report
	}
	d.tally.fill(&s)
	return s
}

func (d *Dashboard) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.broadcast(d.Snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dashboard) broadcast(s Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	for conn := range d.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			d.logger.Debug().Err(err).Msg("dropping websocket client")
			conn.Close()
			delete(d.clients, conn)
		}
	}
}

func (d *Dashboard) closeClients() {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	for conn := range d.clients {
		conn.Close()
	}
	d.clients = make(map[*websocket.Conn]struct{})
}

func (d *Dashboard) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Snapshot()); err != nil {
		d.logger.Debug().Err(err).Msg("failed to write snapshot")
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	data, err := json.Marshal(d.Snapshot())
	if err != nil {
		conn.Close()
		return
	}

	// Registering under the lock keeps the first write ahead of any broadcast.
	d.clientsMu.Lock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		d.clientsMu.Unlock()
		conn.Close()
		return
	}
	d.clients[conn] = struct{}{}
	d.clientsMu.Unlock()

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	d.clientsMu.Lock()
	if _, ok := d.clients[conn]; ok {
		delete(d.clients, conn)
		conn.Close()
	}
	d.clientsMu.Unlock()
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, d.Snapshot()); err != nil {
		d.logger.Debug().Err(err).Msg("failed to render dashboard")
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Credit Engine</title></head>
<body>
<h1>Credit Engine</h1>
{{if .Model.Trained}}
<p>Model {{.Model.Version}} trained {{.Model.TrainedAt.Format "2006-01-02 15:04:05"}}, ROC-AUC {{printf "%.3f" .Model.Performance.ROCAUC}}</p>
{{else}}
<p>No model installed.</p>
{{end}}
<h2>Decisions</h2>
<ul>{{range $decision, $n := .Decisions}}<li>{{$decision}}: {{$n}}</li>{{end}}</ul>
<p>Mean approval probability {{printf "%.3f" .MeanProbability}}</p>
{{with .Drift}}
<h2>Input drift</h2>
<p>{{.Samples}} applicants in window, threshold {{.Threshold}}</p>
<ul>{{range .Features}}<li>{{.Feature}}: PSI {{printf "%.3f" .PSI}} ({{.Severity}})</li>{{end}}</ul>
{{end}}
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
let first = true;
ws.onmessage = () => { if (first) { first = false; return; } location.reload(); };
</script>
</body>
</html>
`))
