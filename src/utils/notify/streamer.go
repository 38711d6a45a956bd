package notify

import (
	"fmt"
	"time"

	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/task"

	"github.com/lib/pq"
)

// Streams data from a postgres notification channel,
// puts the payloads on the output channel
type Streamer struct {
	*task.Task

	listener    *pq.Listener
	channelName string

	Output chan string
}

func NewStreamer(config *config.Config, name string) (self *Streamer) {
	self = new(Streamer)

	self.Output = make(chan string)

	self.Task = task.NewTask(config, name).
		WithSubtaskFunc(self.run).
		WithOnBeforeStart(self.connect).
		WithOnAfterStop(self.disconnect)

	return
}

func (self *Streamer) WithNotificationChannelName(name string) *Streamer {
	self.channelName = name
	return self
}

func (self *Streamer) WithCapacity(size int) *Streamer {
	self.Output = make(chan string, size)
	return self
}

func (self *Streamer) connect() (err error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		self.Config.Database.Host,
		self.Config.Database.Port,
		self.Config.Database.User,
		self.Config.Database.Password,
		self.Config.Database.Name,
		self.Config.Database.SslMode)

	self.listener = pq.NewListener(dsn, 10*time.Second, time.Minute,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				self.Log.WithError(err).WithField("event", event).Error("Notification listener event")
			}
		})

	return self.listener.Listen(self.channelName)
}

func (self *Streamer) disconnect() {
	err := self.listener.Close()
	if err != nil {
		self.Log.WithError(err).Error("Failed to close notification listener")
	}
	close(self.Output)
}

func (self *Streamer) run() (err error) {
	for {
		select {
		case <-self.StopChannel:
			return nil
		case notification, ok := <-self.listener.Notify:
			if !ok {
				return nil
			}
			if notification == nil {
				// Connection got re-established, there may be missed
				// notifications. The poller will pick those up.
				continue
			}

			select {
			case <-self.StopChannel:
				return nil
			case self.Output <- notification.Extra:
			}
		}
	}
}
