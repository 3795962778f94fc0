package cmd

import (
	"github.com/rs/zerolog"

	"stocktag.GO/config"
	"stocktag.GO/core/events"
	catalogRepo "stocktag.GO/model/repository/catalog"
	instanceRepo "stocktag.GO/model/repository/instance"
	tagRepo "stocktag.GO/model/repository/tag"
	"stocktag.GO/service/allocation"
	catalogService "stocktag.GO/service/catalog"
	"stocktag.GO/service/invariant"
	"stocktag.GO/service/inventory"
	tagService "stocktag.GO/service/tag"
)

// stack is the fully wired service layer a command runs against.
type stack struct {
	log        zerolog.Logger
	instances  *instanceRepo.InstanceRepository
	tags       *tagRepo.TagRepository
	catalog    *catalogService.Service
	manager    *tagService.Manager
	aggregator *inventory.Aggregator
	checker    *invariant.Checker
}

// newStack connects to the database and Redis (optional) and wires every
// service the commands need. Events go to the log, plus Redis pub/sub when a
// client is configured.
func newStack() (*stack, error) {
	config.LoadAppConfig()
	config.InitRedis()
	log := newLogger()

	db, err := config.NewDB()
	if err != nil {
		return nil, err
	}
	instances, err := instanceRepo.NewInstanceRepository(db)
	if err != nil {
		return nil, err
	}
	tags := tagRepo.NewTagRepository(db)
	catalog := catalogService.NewService(catalogRepo.NewCatalogRepository(db))

	emitter := events.Multi{events.NewLogEmitter(log)}
	if config.RedisClient != nil {
		emitter = append(emitter, events.NewRedisEmitter(config.RedisClient, config.AppConfig.EventChannel, log))
	}

	engine := allocation.NewEngine(instances, emitter, log)
	return &stack{
		log:        log,
		instances:  instances,
		tags:       tags,
		catalog:    catalog,
		manager:    tagService.NewManager(tags, instances, engine, catalog, emitter, log),
		aggregator: inventory.NewAggregator(instances),
		checker:    invariant.NewChecker(instances, tags),
	}, nil
}
