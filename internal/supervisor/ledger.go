package supervisor

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/testworker/internal/faults"
)

// AttributionLedger remembers rejections the engine claimed. Entries are
// never removed during a run.
type AttributionLedger struct {
	ids mapset.Set[faults.RejectionID]
}

func NewAttributionLedger() *AttributionLedger {
	return &AttributionLedger{ids: mapset.NewSet[faults.RejectionID]()}
}

func (l *AttributionLedger) Add(id faults.RejectionID) bool {
	return l.ids.Add(id)
}

func (l *AttributionLedger) Contains(id faults.RejectionID) bool {
	return l.ids.Contains(id)
}

func (l *AttributionLedger) Len() int {
	return l.ids.Cardinality()
}
