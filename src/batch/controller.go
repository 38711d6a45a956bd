package batch

import (
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/crypt"
	"github.com/openledgerhq/feerelay/src/utils/ledger"
	"github.com/openledgerhq/feerelay/src/utils/monitoring"
	"github.com/openledgerhq/feerelay/src/utils/notify"
	"github.com/openledgerhq/feerelay/src/utils/task"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Channel the insert trigger on batch_requests notifies on
const notificationChannelName = "batch_requests_created"

// Controller bundles everything the batch side needs into one task:
// the processor with its worker pool, the poller and the postgres
// notification listener feeding it.
type Controller struct {
	*task.Task

	// Accepts new batches, used by the REST handlers
	Service *Service
}

func NewController(config *config.Config, db *gorm.DB, cipher crypt.Cipher, client ledger.Client, monitor monitoring.Monitor) (self *Controller) {
	self = new(Controller)
	self.Task = task.NewTask(config, "batch-controller")

	store := NewGormStore(config, db)

	self.Service = NewService(config).
		WithStore(store).
		WithCipher(cipher).
		WithMonitor(monitor)

	poller := NewPoller(config).
		WithStore(store)

	processor := NewProcessor(config).
		WithStore(store).
		WithCipher(cipher).
		WithLedgerClient(client).
		WithMonitor(monitor).
		WithInput(poller.Output)

	streamer := notify.NewStreamer(config, "batch-notifier").
		WithNotificationChannelName(notificationChannelName).
		WithCapacity(config.Batch.NumBatchWorkers)

	// With the notifier disabled the streamer never starts and its output
	// stays silent, the forwarder just waits for the stop signal
	self.Task = self.Task.
		WithSubtask(poller.Task).
		WithSubtask(processor.Task).
		WithConditionalSubtask(!config.Batch.NotifierDisabled, streamer.Task).
		WithSubtaskFunc(func() error {
			return self.forwardNotifications(streamer.Output, processor)
		})

	return
}

// Notification payloads are request ids put there by the insert trigger.
// A malformed payload is dropped, the poller would pick the request up anyway.
func (self *Controller) forwardNotifications(input <-chan string, processor *Processor) error {
	for {
		select {
		case <-self.StopChannel:
			return nil
		case payload, ok := <-input:
			if !ok {
				return nil
			}
			requestId, err := uuid.Parse(payload)
			if err != nil {
				self.Log.WithError(err).WithField("payload", payload).Warn("Malformed batch notification")
				continue
			}
			processor.Process(requestId)
		}
	}
}
