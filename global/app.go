package global

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"ChatRelay/global/config"
	"ChatRelay/logger"
	mid "ChatRelay/middleware"
	midsec "ChatRelay/middleware/security"
	"ChatRelay/service/chat"
	"ChatRelay/service/chat/handlers"
	"ChatRelay/service/friends"
	ka "ChatRelay/service/kafka"
	"ChatRelay/service/natsx"
	"ChatRelay/service/storage"
	"ChatRelay/tools/ids"
	jwtsec "ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "chat.Relay"

// App is one relay process with its optional collaborators. Every
// collaborator whose address is left empty in the config stays off.
type App struct {
	Cfg   config.AppConfig
	Relay *chat.Server

	engine   *gin.Engine
	health   *health.Server
	rdb      *redis.Client
	presence *storage.Presence
	pub      *natsx.PresencePublisher
	nats     *natsx.NatsManager
	idem     *natsx.MemIdem
	pg       *pgxpool.Pool
	log      *zap.Logger
}

// New connects the configured collaborators and builds the relay. On error
// everything opened so far is closed.
func New(ctx context.Context, cfg config.AppConfig) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ids.SetNodeID(cfg.NodeId)
	a = &App{Cfg: cfg, log: logger.Named("app")}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	proto, err := chat.ProtocolByName(cfg.Relay.Protocol)
	if err != nil {
		return nil, err
	}
	node := strconv.FormatInt(cfg.NodeId, 10)

	var sinks chat.PresenceSinks
	if cfg.Redis.Addr != "" {
		if a.rdb, err = storage.NewRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		a.presence = storage.NewPresence(a.rdb, node, cfg.Redis.PresenceTTL)
		sinks = append(sinks, a.presence)
	}
	if len(cfg.Nats.Servers) > 0 {
		a.idem = natsx.NewMemIdem(10 * time.Minute)
		a.nats, err = natsx.NewNatsManager(cfg.Nats,
			natsx.LogMiddleware(logger.Named("nats")),
			natsx.IdemMiddleware(a.idem, 0))
		if err != nil {
			return nil, err
		}
		if cfg.Nats.PresenceSubject != "" {
			if a.pub, err = natsx.NewPresencePublisher(a.nats, cfg.Nats.PresenceSubject, cfg.NodeId); err != nil {
				return nil, err
			}
			sinks = append(sinks, a.pub)
		}
	}

	var friendSrc chat.FriendSource
	if cfg.Postgres.DSN != "" {
		if a.pg, err = friends.Connect(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
		friendSrc = friends.NewStore(a.pg, cfg.Postgres.FriendsQuery, cfg.Postgres.QueryTimeout)
	}

	origins := mid.NewOriginPolicy(cfg.Server.AllowedOrigins)
	opts := chat.Options{
		Protocol: proto,
		Conn: chat.ConnOptions{
			SendQueue:      cfg.Relay.SendQueue,
			MaxMessageSize: cfg.Relay.MaxMessageSize,
			WriteWait:      cfg.Relay.WriteWait,
			PongWait:       cfg.Relay.PongWait,
			PingInterval:   cfg.Relay.PingInterval,
			RateBurst:      cfg.Relay.RateLimit.Burst,
			RateInterval:   cfg.Relay.RateLimit.RefillInterval,
		},
		Friends:     friendSrc,
		CheckOrigin: origins.Check,
	}
	if len(sinks) > 0 {
		opts.Presence = sinks
	}
	a.Relay = chat.NewServer(opts)
	handlers.RegisterAll(a.Relay.Disp(), proto)

	if a.nats != nil {
		mode, err := natsx.ParseMode(cfg.Nats.IngressMode)
		if err != nil {
			return nil, err
		}
		in := natsx.IngressRoute{Subject: cfg.Nats.IngressSubject, Queue: cfg.Nats.IngressQueue, Mode: mode, Durable: cfg.Nats.Durable}
		if err := natsx.ServeIngress(ctx, a.nats, in, a.Relay); err != nil {
			return nil, fmt.Errorf("nats ingress: %w", err)
		}
	}

	a.engine = NewEngine(a.Relay, cfg, origins)
	if a.presence != nil {
		a.engine.GET("/presence/:id", HandlePresence(a.presence))
	}
	return a, nil
}

// NewEngine builds the HTTP surface of the relay.
func NewEngine(relay *chat.Server, cfg config.AppConfig, origins *mid.OriginPolicy) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// AccessLog calls c.Next, so it sits outside the manager chain
	r.Use(gin.Recovery(), mid.AccessLog())

	mgr := mid.NewManager()
	mgr.Add(mid.Origin(origins))
	r.Use(mgr.Use())

	identity := midsec.DefaultOptions()
	identity.RequireToken = cfg.Auth.RequireToken
	identity.JWT = jwtsec.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg}
	relay.Routes(r, cfg.Server.WSPath, identity)
	return r
}

// PresenceLookup answers which node holds a user.
type PresenceLookup interface {
	Lookup(ctx context.Context, userID int64) (node string, online bool, err error)
}

// HandlePresence reports the cluster-wide presence of one user from the
// redis mirror.
func HandlePresence(p PresenceLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad user id"})
			return
		}
		node, online, err := p.Lookup(c.Request.Context(), id)
		if err != nil {
			logger.Named("http").Warn("presence lookup failed", zap.Int64("user", id), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id, "online": online, "node": node})
	}
}

// Run serves until ctx is done, then drains streams within
// cfg.Server.ShutdownWait.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, ctx := errgroup.WithContext(ctx)
	if a.Cfg.Server.GrpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Cfg.Server.GrpcPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		a.health = health.NewServer()
		healthpb.RegisterHealthServer(gs, a.health)
		a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		a.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		g.Go(func() error {
			a.log.Info("grpc health listening", zap.Int("port", a.Cfg.Server.GrpcPort))
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("http listening", zap.String("addr", httpSrv.Addr),
			zap.String("ws_path", a.Cfg.Server.WSPath), zap.String("protocol", a.Relay.Protocol().Name()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.Cfg.Server.ShutdownWait)
		defer cancel()
		if a.health != nil {
			a.health.Shutdown()
		}
		if err := a.Relay.Shutdown(sctx); err != nil {
			a.log.Warn("relay shutdown incomplete", zap.Error(err))
		}
		return httpSrv.Shutdown(sctx)
	})

	if a.presence != nil {
		g.Go(func() error { return a.presence.Run(ctx) })
	}
	if a.pub != nil {
		g.Go(func() error { return a.pub.Run(ctx) })
	}
	if a.idem != nil {
		g.Go(func() error {
			a.idem.Sweep(ctx, time.Minute)
			return nil
		})
	}
	if len(a.Cfg.Kafka.Brokers) > 0 {
		if err := ka.UseGlog(a.Cfg.Kafka.LogV); err != nil {
			return err
		}
		router := ka.NewRouter()
		router.HandleAll(a.Cfg.Kafka.Topics, func(ctx context.Context, _ string, _, value []byte) error {
			return a.Relay.Inject(ctx, value)
		})
		g.Go(func() error {
			return ka.RunConsumerGroup(ctx, a.Cfg.Kafka, "chat-relay-"+strconv.FormatInt(a.Cfg.NodeId, 10), router)
		})
	}

	return g.Wait()
}

func (a *App) close() {
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
