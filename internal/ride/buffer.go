package ride

import "sync"

// Logger matches the subset of *log.Logger the package needs.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// TelemetryBuffer accumulates rows for the ride in progress. Appends
// land in memory and in the durable row log; Drain hands back the
// in-memory rows exactly once, and the log keeps its copy until Commit
// confirms the remote accepted them.
type TelemetryBuffer struct {
	log    RowLog
	logger Logger

	mu     sync.Mutex
	active bool
	rideID int
	rows   []Row
}

func NewTelemetryBuffer(log RowLog, logger Logger) *TelemetryBuffer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &TelemetryBuffer{log: log, logger: logger, rideID: -1}
}

func (b *TelemetryBuffer) Begin(rideID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.log != nil {
		if err := b.log.Begin(rideID); err != nil {
			return err
		}
	}
	b.active = true
	b.rideID = rideID
	b.rows = nil
	return nil
}

// Append records a row for the active ride. Rows arriving while no
// ride is active are discarded. A row log failure degrades durability
// but never drops the row from memory.
func (b *TelemetryBuffer) Append(row Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.rows = append(b.rows, row)
	if b.log != nil {
		if err := b.log.Append(b.rideID, row); err != nil {
			b.logger.Printf("telemetry: row log append failed for ride %d: %v", b.rideID, err)
		}
	}
}

// Drain returns the buffered rows in append order and empties the
// in-memory buffer. Calling it again before new appends yields nil.
// The buffer stops accepting rows until the next Begin.
func (b *TelemetryBuffer) Drain() (int, []Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rideID := b.rideID
	rows := b.rows
	b.rows = nil
	b.active = false
	return rideID, rows
}

// Commit drops the durable copy once the drained rows are known to be
// stored remotely.
func (b *TelemetryBuffer) Commit(rideID int) error {
	if b.log == nil {
		return nil
	}
	return b.log.Commit(rideID)
}

func (b *TelemetryBuffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *TelemetryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

func (b *TelemetryBuffer) RideID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rideID
}
