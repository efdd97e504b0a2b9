package mirror

import (
	"sync/atomic"

	"github.com/InsulaLabs/ntmirror/models"
)

type timeSyncTracker struct {
	latest atomic.Pointer[models.TimeSyncInfo]
}

func (ts *timeSyncTracker) set(info models.TimeSyncInfo) {
	ts.latest.Store(&info)
}

func (ts *timeSyncTracker) get() models.TimeSyncInfo {
	if info := ts.latest.Load(); info != nil {
		return *info
	}
	return models.TimeSyncInfo{}
}
