package assemblers

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/clients"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/engines/eventbus"
	"github.com/trustbroker/trustbroker/pkg/engines/eventbus/amqp"
	"github.com/trustbroker/trustbroker/pkg/engines/eventbus/channel"
	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"github.com/trustbroker/trustbroker/pkg/engines/storage/postgres"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/jobs"
	"github.com/trustbroker/trustbroker/pkg/middlewares/eventpub"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/routes"
	"github.com/trustbroker/trustbroker/pkg/services"
	"github.com/trustbroker/trustbroker/pkg/services/handlers"
)

const serviceID = "trustbroker"

type BrokerServices struct {
	Enrollment services.EnrollmentService
	Profiles   services.ProfileService

	sweepScheduler *jobs.JobScheduler
}

func AssembleBrokerServiceWithHTTPServer(conf config.BrokerConfig, serviceInfo models.APIServiceInfo) (*BrokerServices, int, error) {
	broker, err := AssembleBrokerService(conf)
	if err != nil {
		return nil, -1, fmt.Errorf("could not assemble Broker Service. Exiting: %s", err)
	}

	lHttp := helpers.SetupLogger(conf.Server.LogLevel, "Trust Broker", "HTTP Server")

	httpEngine := routes.NewGinEngine(lHttp)
	httpGrp := httpEngine.Group("/")
	routes.NewEnrollmentHTTPLayer(lHttp, httpGrp, broker.Enrollment)
	routes.NewProfileHTTPLayer(lHttp, httpGrp, broker.Profiles)

	port, err := routes.RunHttpRouter(lHttp, httpEngine, conf.Server, serviceInfo)
	if err != nil {
		return nil, -1, fmt.Errorf("could not run Broker http server: %s", err)
	}

	return broker, port, nil
}

func AssembleBrokerService(conf config.BrokerConfig) (*BrokerServices, error) {
	lSvc := helpers.SetupLogger(conf.Logs.Level, "Trust Broker", "Service")
	lMessaging := helpers.SetupLogger(conf.EventBus.LogLevel, "Trust Broker", "Event Bus")
	lStorage := helpers.SetupLogger(conf.Storage.LogLevel, "Trust Broker", "Storage")
	lCAClient := helpers.SetupLogger(conf.Logs.Level, "Trust Broker", "CA Client")
	lKeyClient := helpers.SetupLogger(conf.Logs.Level, "Trust Broker", "Key Provider Client")

	storageEngine, err := createStorageEngine(lStorage, conf.Storage)
	if err != nil {
		return nil, fmt.Errorf("could not create storage engine: %s", err)
	}

	transactionsStorage, err := storageEngine.GetTransactionStorage()
	if err != nil {
		return nil, fmt.Errorf("could not get transaction storage: %s", err)
	}

	noncesStorage, err := storageEngine.GetNonceStorage()
	if err != nil {
		return nil, fmt.Errorf("could not get nonce storage: %s", err)
	}

	profilesStorage, err := storageEngine.GetProfileStorage()
	if err != nil {
		return nil, fmt.Errorf("could not get profile storage: %s", err)
	}

	caClient := clients.NewCAClient(lCAClient, conf.CAClient)
	keyClient := clients.NewKeyOperationsClient(lKeyClient, conf.KeyProvider)

	enrollmentSvc := services.NewEnrollmentService(services.EnrollmentServiceBuilder{
		Logger:              lSvc,
		TransactionsStorage: transactionsStorage,
		NoncesStorage:       noncesStorage,
		ProfilesStorage:     profilesStorage,
		CAClient:            caClient,
		KeyClient:           keyClient,
	})

	profileSvc := services.NewProfileService(services.ProfileServiceBuilder{
		Logger:          lSvc,
		ProfilesStorage: profilesStorage,
	})

	var cloudPub eventpub.ICloudEventPublisher

	if conf.EventBus.Enabled {
		log.Infof("Event Bus is enabled")

		amqp.Register()
		channel.Register()

		busEngine, err := eventbus.GetEventBusEngine(conf.EventBus, serviceID, lMessaging)
		if err != nil {
			return nil, fmt.Errorf("could not create Event Bus engine: %s", err)
		}

		pub, err := busEngine.Publisher()
		if err != nil {
			return nil, fmt.Errorf("could not create Event Bus publisher: %s", err)
		}

		cloudPub = &eventpub.CloudEventPublisher{
			Publisher: pub,
			ServiceID: serviceID,
			Logger:    lMessaging,
		}

		enrollmentBackend := enrollmentSvc.(*services.EnrollmentServiceBackend)
		enrollmentSvc = eventpub.NewEnrollmentEventPublisher(cloudPub)(enrollmentSvc)
		enrollmentBackend.SetService(enrollmentSvc)

		profileSvc = eventpub.NewProfileEventPublisher(cloudPub)(profileSvc)

		subscriber, err := busEngine.Subscriber()
		if err != nil {
			return nil, fmt.Errorf("could not create Event Bus subscriber: %s", err)
		}

		auditHandler := handlers.NewAuditEventHandler(lMessaging)
		subHandler, err := eventbus.NewEventBusMessageHandler("Broker-Audit", "enrollment.#", subscriber, lMessaging, *auditHandler)
		if err != nil {
			return nil, fmt.Errorf("could not create Event Bus Subscription Handler: %s", err)
		}

		if err := subHandler.RunAsync(); err != nil {
			return nil, fmt.Errorf("could not run Event Bus Subscription Handler: %s", err)
		}
	}

	broker := &BrokerServices{
		Enrollment: enrollmentSvc,
		Profiles:   profileSvc,
	}

	if conf.Sweep.Enabled {
		lSweep := helpers.SetupLogger(conf.Logs.Level, "Trust Broker", "Sweep")
		sweep := jobs.NewSweepJob(lSweep, transactionsStorage, noncesStorage, cloudPub)
		broker.sweepScheduler = jobs.NewJobScheduler(lSweep, conf.Sweep.Frequency, sweep)
		broker.sweepScheduler.Start()
	}

	return broker, nil
}

func (b *BrokerServices) Stop() {
	if b.sweepScheduler != nil {
		b.sweepScheduler.Stop()
	}
}

func createStorageEngine(logger *log.Entry, conf config.PostgresConfig) (storage.StorageEngine, error) {
	return postgres.NewStorageEngine(logger, conf)
}
