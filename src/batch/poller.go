package batch

import (
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/task"

	"github.com/google/uuid"
)

// Poller periodically looks for batch requests that still need work.
// It backs up the notification channel: batches created while the listener
// was down and batches interrupted by a restart come through here.
type Poller struct {
	*task.Task

	store Store

	Output chan uuid.UUID
}

func NewPoller(config *config.Config) (self *Poller) {
	self = new(Poller)
	self.Output = make(chan uuid.UUID)

	self.Task = task.NewTask(config, "batch-poller").
		WithPeriodicSubtaskFunc(config.Batch.PollerInterval, self.poll).
		WithOnAfterStop(func() {
			close(self.Output)
		})

	return
}

func (self *Poller) WithStore(store Store) *Poller {
	self.store = store
	return self
}

func (self *Poller) poll() (err error) {
	requestIds, err := self.store.ListUnfinished(self.Ctx, self.Config.Batch.PageSize)
	if err != nil {
		// Transient, try again next period
		self.Log.WithError(err).Error("Failed to poll for unfinished batch requests")
		return nil
	}

	for _, requestId := range requestIds {
		select {
		case <-self.StopChannel:
			return nil
		case self.Output <- requestId:
		}
	}
	return nil
}
