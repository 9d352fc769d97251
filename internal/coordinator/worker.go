package coordinator

import (
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

// WorkerSpec names one worker the coordinator connects to and the share
// rules (capacity, region) distribution strategies read from.
type WorkerSpec struct {
	Address  string
	Capacity int
	Region   string
}

// WorkerRecord is the coordinator's live view of one worker, per the spec's
// worker record fields.
type WorkerRecord struct {
	Address       string
	Capacity      int
	Region        string
	Status        testplan.WorkerStatus
	LastHeartbeat time.Time
	ErrorCount    int
	ResponseTime  time.Duration

	virtualUsers int
	client       *workerClient
}
