package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Audit event types recorded to the NDJSON log.
const (
	AuditJoin      = "join"
	AuditLeave     = "leave"
	AuditReconnect = "reconnect"
	AuditDamage    = "damage"
	AuditDeath     = "death"
	AuditLevelUp   = "level_up"
	AuditKick      = "kick"
	AuditViolation = "violation"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	Sequence uint64 `json:"seq"`
	Type     string `json:"type"`
	Tick     uint64 `json:"tick"`
	PlayerID string `json:"playerId,omitempty"`
	Time     int64  `json:"time"`
	Payload  any    `json:"payload,omitempty"`
}

const (
	auditBufferSize    = 1024
	auditMaxPerSec     = 10000
	auditFlushSize     = 64
	auditFlushInterval = 100 * time.Millisecond
)

// AuditLog is a bounded, rate-limited audit trail with an async disk
// writer. Emitters never block; under flood the oldest records drop.
type AuditLog struct {
	buffer    [auditBufferSize]AuditEvent
	writeHead uint64 // atomic
	readHead  uint64 // atomic

	limiter *rate.Limiter

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	fileMu sync.Mutex

	dropped uint64 // atomic
	total   uint64 // atomic
}

// NewAuditLog creates a stopped audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{
		limiter:  rate.NewLimiter(auditMaxPerSec, auditMaxPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens the output file and launches the writer. An empty path
// keeps the log disabled; Emit becomes a no-op.
func (l *AuditLog) Start(path string) error {
	if l.running.Load() || path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.running.Store(true)
	l.wg.Add(1)
	go l.writerLoop()
	return nil
}

// Stop flushes remaining records and closes the file.
func (l *AuditLog) Stop() {
	l.stopOnce.Do(func() {
		if !l.running.Load() {
			return
		}
		l.running.Store(false)
		close(l.stopChan)
		l.wg.Wait()

		l.fileMu.Lock()
		if l.file != nil {
			l.file.Close()
		}
		l.fileMu.Unlock()
	})
}

// Emit records an audit event. Returns false when disabled, rate
// limited, or dropped under backpressure.
func (l *AuditLog) Emit(eventType string, tick uint64, playerID string, payload any) bool {
	if !l.running.Load() {
		return false
	}
	if !l.limiter.Allow() {
		atomic.AddUint64(&l.dropped, 1)
		return false
	}

	head := atomic.AddUint64(&l.writeHead, 1) - 1
	tail := atomic.LoadUint64(&l.readHead)
	if head-tail >= auditBufferSize {
		// Rolling window: drop the oldest record under flood.
		atomic.AddUint64(&l.readHead, 1)
		atomic.AddUint64(&l.dropped, 1)
	}

	l.buffer[head%auditBufferSize] = AuditEvent{
		Sequence: head,
		Type:     eventType,
		Tick:     tick,
		PlayerID: playerID,
		Time:     time.Now().UnixMilli(),
		Payload:  payload,
	}
	atomic.AddUint64(&l.total, 1)
	return true
}

func (l *AuditLog) writerLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]AuditEvent, 0, auditFlushSize)
	for {
		select {
		case <-l.stopChan:
			for {
				batch = l.collect(batch[:0])
				if len(batch) == 0 {
					return
				}
				l.flush(batch)
			}
		case <-ticker.C:
			batch = l.collect(batch[:0])
			if len(batch) > 0 {
				l.flush(batch)
			}
		}
	}
}

func (l *AuditLog) collect(batch []AuditEvent) []AuditEvent {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	for i := tail; i < head && len(batch) < auditFlushSize; i++ {
		batch = append(batch, l.buffer[i%auditBufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&l.readHead, uint64(len(batch)))
	}
	return batch
}

func (l *AuditLog) flush(batch []AuditEvent) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return
	}
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		l.file.Write(data)
		l.file.Write([]byte("\n"))
	}
}

// Stats reports counters for the debug endpoint.
func (l *AuditLog) Stats() map[string]any {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	return map[string]any{
		"total":   atomic.LoadUint64(&l.total),
		"dropped": atomic.LoadUint64(&l.dropped),
		"pending": head - tail,
		"running": l.running.Load(),
	}
}
