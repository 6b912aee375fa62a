package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
	tsMask   = 1<<41 - 1
)

// Epoch is the zero point of generated ids.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator hands out 63-bit snowflake ids: 41 bits of milliseconds since
// Epoch, 10 bits of node, 12 bits of sequence.
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{
		epochMS: Epoch.UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

var (
	defaultGen *Generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = NewGenerator(1)
	})
}

// Generate returns the next id from the process-wide generator.
func Generate() int64 {
	initDefault()
	return defaultGen.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID sets the node of the process-wide generator; out of range
// values fall back to 1. Call it once from main before serving.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// clock moved backwards
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & seqMask
			if g.seq == 0 {
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & tsMask
		return (ts << (nodeBits + seqBits)) | (g.nodeID << seqBits) | g.seq
	}
}

// Node extracts the node bits of id.
func Node(id int64) int64 {
	return (id >> seqBits) & maxNode
}
