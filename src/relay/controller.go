package relay

import (
	"errors"

	"github.com/openledgerhq/feerelay/src/batch"
	"github.com/openledgerhq/feerelay/src/transfer"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/crypt"
	"github.com/openledgerhq/feerelay/src/utils/ledger"
	"github.com/openledgerhq/feerelay/src/utils/model"
	"github.com/openledgerhq/feerelay/src/utils/monitoring"
	monitor_relay "github.com/openledgerhq/feerelay/src/utils/monitoring/relay"
	"github.com/openledgerhq/feerelay/src/utils/task"
)

type Controller struct {
	*task.Task
}

// Main class that orchestrates the relay.
// Sets up the database, the ledger client, both feature services and the
// REST server in front of them.
func NewController(config *config.Config) (self *Controller, err error) {
	self = new(Controller)

	self.Task = task.NewTask(config, "controller")

	db, err := model.NewConnection(self.Ctx, config, "relay")
	if err != nil {
		return
	}

	cipher, err := newCipher(config)
	if err != nil {
		return
	}

	client := ledger.NewHttpClient(config)

	monitor := monitor_relay.NewMonitor()

	transferService := transfer.NewService(config).
		WithStore(transfer.NewGormStore(config, db)).
		WithLedgerClient(client).
		WithMonitor(monitor)

	batchController := batch.NewController(config, db, cipher, client, monitor)

	server := monitoring.NewServer(config).
		WithMonitor(monitor)

	NewRest(config).
		WithTransferService(transferService).
		WithBatchService(batchController.Service).
		Register(server.Router)

	self.Task = self.Task.
		WithSubtask(monitor.Task).
		WithSubtask(server.Task).
		WithSubtask(batchController.Task)

	return
}

// Without a key configured recipient accounts would hit the database in
// plaintext, that's only allowed in development
func newCipher(config *config.Config) (crypt.Cipher, error) {
	if config.Crypt.RecipientAccountKey == "" {
		if !config.IsDevelopment {
			return nil, errors.New("Crypt.RecipientAccountKey is not set")
		}
		return crypt.NoopCipher{}, nil
	}
	return crypt.NewAesGcmCipher(config.Crypt.RecipientAccountKey)
}
