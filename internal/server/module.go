package server

import (
	"context"

	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/config"
	"github.com/matheus3301/chatty/internal/logging"
	"github.com/matheus3301/chatty/internal/registry"
	"github.com/matheus3301/chatty/internal/store"
	"github.com/matheus3301/chatty/internal/tutor"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the server, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("server",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDatabase,
			provideUserStore,
			provideMessageStore,
			provideAIMessageStore,
			provideTokenService,
			provideBootstrap,
			provideRegistry,
			provideTutor,
			provideChatService,
			provideHandlers,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath)
}

func provideDatabase(cfg *config.Config, logger *zap.Logger) (*mongo.Database, error) {
	return store.Open(context.Background(), cfg.Mongo.URL, cfg.Mongo.Database, logger)
}

func provideUserStore(db *mongo.Database) store.UserStore {
	return store.NewUserStore(db)
}

func provideMessageStore(db *mongo.Database) store.MessageStore {
	return store.NewMessageStore(db)
}

func provideAIMessageStore(db *mongo.Database) store.AIMessageStore {
	return store.NewAIMessageStore(db)
}

func provideTokenService(cfg *config.Config) *auth.TokenService {
	return auth.NewTokenService(cfg.Auth.Secret, cfg.TokenTTL())
}

func provideBootstrap(users store.UserStore, tokens *auth.TokenService, logger *zap.Logger) *auth.Bootstrap {
	return auth.NewBootstrap(users, tokens, logger)
}

func provideRegistry(logger *zap.Logger) *registry.Registry {
	return registry.New(logger)
}

func provideTutor(cfg *config.Config, logger *zap.Logger) (*tutor.Service, error) {
	return tutor.New(cfg.LLM, logger)
}

func provideChatService(messages store.MessageStore, users store.UserStore, reg *registry.Registry, logger *zap.Logger) *ChatService {
	return NewChatService(messages, users, reg, logger)
}

func provideHandlers(cfg *config.Config, bootstrap *auth.Bootstrap, chat *ChatService, users store.UserStore, aiStore store.AIMessageStore, t *tutor.Service, logger *zap.Logger) *Handlers {
	return NewHandlers(bootstrap, chat, users, aiStore, t, cfg.LLM.Model, logger)
}

func provideServer(cfg *config.Config, h *Handlers, tokens *auth.TokenService, reg *registry.Registry, logger *zap.Logger) *Server {
	return NewServer(cfg.ListenAddr, h, tokens, reg, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, db *mongo.Database, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := db.Client().Disconnect(ctx); err != nil {
				logger.Warn("mongo disconnect", zap.Error(err))
			}
			logger.Info("server stopped")
			return nil
		},
	})
}
