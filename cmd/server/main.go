package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"sqrl_server/config"
	"sqrl_server/internal/nut"
	"sqrl_server/internal/protocol/engine"
	identityRepo "sqrl_server/internal/repository/identity"
	redisSvc "sqrl_server/internal/service/redis"
	"sqrl_server/internal/service/server"
	"sqrl_server/internal/store"
	"sqrl_server/internal/utils/log"
)

func main() {
	v, err := config.LoadConfig("config")
	if err != nil {
		panic(err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		panic(err)
	}
	log.Init(cfg.LoggerMode.Development)

	mongoDBClient, err := initMongo(cfg)
	if err != nil {
		panic(err)
	}
	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisService := redisSvc.NewRedis(rdb)

	registry := nut.NewRedisRegistry(redisService, cfg.Sqrl.NutTTL)
	identityStore := store.NewStore(identityRepo.NewIdentityRepo(db))
	gen := newGenerator(cfg)

	e := engine.New(registry, identityStore, gen, engine.Options{
		URLPath:    cfg.Sqrl.URLPath,
		SuccessURL: cfg.Sqrl.SuccessURL,
		CancelURL:  cfg.Sqrl.CancelURL,
	})

	s := server.NewHttpServer(e, registry, identityStore, gen, cfg)
	go func() {
		if err := s.Run(); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
}

func newGenerator(cfg *config.Config) nut.Generator {
	if cfg.Sqrl.NutKey == "" {
		return nut.NewRandomGenerator()
	}

	raw, err := hex.DecodeString(cfg.Sqrl.NutKey)
	if err != nil || len(raw) != 32 {
		log.Fatal("sqrl.nutKey must be 64 hex chars")
	}
	var key [32]byte
	copy(key[:], raw)
	return nut.NewEncryptedGenerator(key)
}

func initMongo(cfg *config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
