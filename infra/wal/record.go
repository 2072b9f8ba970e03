package wal

// Transaction kinds journaled ahead of execution.
const (
	KindSubmit     uint32 = 1
	KindCancel     uint32 = 2
	KindSettle     uint32 = 3
	KindDeposit    uint32 = 4
	KindSpot       uint32 = 5
	KindSpotCancel uint32 = 6
)

// Record is one journaled transaction. Seq is assigned by the WAL on
// append; Height/Index carry the global ordering key so replay rebuilds
// the exact same total order.
type Record struct {
	Seq    uint64
	Height uint64
	Index  uint32
	Kind   uint32
	Data   []byte
}
